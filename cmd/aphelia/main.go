// Command aphelia is the main entry point for the Aphelia speech-therapy
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aphelia-health/aphelia/internal/app"
	"github.com/aphelia-health/aphelia/internal/config"
	"github.com/aphelia-health/aphelia/internal/observe"
	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/aphelia-health/aphelia/pkg/capture/deepgram"
	"github.com/aphelia-health/aphelia/pkg/capture/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can change it at runtime.
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aphelia: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aphelia: %v\n", err)
		}
		return 1
	}
	logLevel.Set(cfg.Server.LogLevel.Level())

	slog.Info("aphelia starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "aphelia"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capture backend registry ──────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build capture backends", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload watcher ────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(old, new, logLevel, application)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload reacts to a config file change. Only the log level and the
// engine settings (timings, phonetic matching) take effect without a
// restart; anything else logs a notice.
func applyReload(old, new *config.Config, logLevel *slog.LevelVar, application *app.App) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.EngineChanged {
		if application != nil {
			application.Sessions().SetDelays(d.NewEngine.Delays())
			application.Sessions().SetMatcher(d.NewEngine.Matcher())
		}
		slog.Info("engine settings changed, sessions started from now use them",
			"fallback_reveal_ms", d.NewEngine.FallbackRevealMs,
			"success_advance_ms", d.NewEngine.SuccessAdvanceMs,
			"soft_reset_ms", d.NewEngine.SoftResetMs,
			"phonetic_threshold", d.NewEngine.PhoneticThreshold,
		)
	}
	if !d.LogLevelChanged && !d.EngineChanged {
		slog.Info("config file changed, but the changed settings require a restart")
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the capture backend factories that ship
// with Aphelia into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterCapture("whisper", func(entry config.BackendEntry) (capture.Provider, error) {
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "no_input_timeout_ms"); ms > 0 {
			opts = append(opts, whisper.WithNoInputTimeoutMs(ms))
		}
		return whisper.New(entry.ModelPath, opts...)
	})

	reg.RegisterCapture("deepgram", func(entry config.BackendEntry) (capture.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if endpoint := optString(entry.Options, "endpoint"); endpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(endpoint))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the configured local and cloud capture
// backends using the registry and returns them in an [app.Providers]
// struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	local, err := reg.CreateCapture(cfg.Capture.Local)
	if err != nil {
		return nil, fmt.Errorf("create local backend %q: %w", cfg.Capture.Local.Name, err)
	}
	ps.Local = local
	slog.Info("capture backend created", "slot", "local", "name", cfg.Capture.Local.Name)

	cloud, err := reg.CreateCapture(cfg.Capture.Cloud)
	if err != nil {
		return nil, fmt.Errorf("create cloud backend %q: %w", cfg.Capture.Cloud.Name, err)
	}
	ps.Cloud = cloud
	slog.Info("capture backend created", "slot", "cloud", "name", cfg.Capture.Cloud.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Aphelia — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Local STT", cfg.Capture.Local.Name)
	printEntry("Cloud STT", cfg.Capture.Cloud.Name)
	if cfg.Storage.PostgresDSN != "" {
		printEntry("Storage", "postgres")
	} else {
		printEntry("Storage", "in-memory")
	}
	printEntry("Worksheets", cfg.Curriculum.WorksheetsFile)
	printEntry("Daily plan", cfg.Curriculum.DaysFile)
	printEntry("Scenarios", cfg.Curriculum.ScenariosFile)
	printEntry("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = "…" + value[len(value)-18:]
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a backend Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a backend Options map[string]any.
// YAML decodes whole numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}
