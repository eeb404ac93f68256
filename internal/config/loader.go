package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the capture backend names the server ships with.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = []string{"whisper", "deepgram"}

// Defaults applied by [LoadFromReader] when the file leaves them unset.
const (
	defaultListenAddr = ":8080"
	defaultLanguage   = "en"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.Local.Name == "" {
		cfg.Capture.Local.Name = "whisper"
	}
	if cfg.Capture.Cloud.Name == "" {
		cfg.Capture.Cloud.Name = "deepgram"
	}
	if cfg.Capture.Local.Language == "" {
		cfg.Capture.Local.Language = defaultLanguage
	}
	if cfg.Capture.Cloud.Language == "" {
		cfg.Capture.Cloud.Language = defaultLanguage
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend name validation — warn for unknown backend names.
	validateBackendName("capture.local", cfg.Capture.Local.Name)
	validateBackendName("capture.cloud", cfg.Capture.Cloud.Name)

	// Backend credential cross-checks.
	if cfg.Capture.Cloud.Name == "deepgram" && cfg.Capture.Cloud.APIKey == "" {
		errs = append(errs, errors.New("capture.cloud.api_key is required for the deepgram backend"))
	}
	if cfg.Capture.Local.Name == "whisper" && cfg.Capture.Local.ModelPath == "" {
		errs = append(errs, errors.New("capture.local.model_path is required for the whisper backend"))
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; trial history will not survive restarts")
	}

	// Engine timings
	if cfg.Engine.FallbackRevealMs < 0 {
		errs = append(errs, fmt.Errorf("engine.fallback_reveal_ms %d is negative", cfg.Engine.FallbackRevealMs))
	}
	if cfg.Engine.SuccessAdvanceMs < 0 {
		errs = append(errs, fmt.Errorf("engine.success_advance_ms %d is negative", cfg.Engine.SuccessAdvanceMs))
	}
	if cfg.Engine.SoftResetMs < 0 {
		errs = append(errs, fmt.Errorf("engine.soft_reset_ms %d is negative", cfg.Engine.SoftResetMs))
	}

	// Curriculum
	if cfg.Curriculum.WorksheetsFile == "" {
		errs = append(errs, errors.New("curriculum.worksheets_file is required"))
	}
	if cfg.Curriculum.DaysFile == "" {
		slog.Warn("curriculum.days_file is empty; daily sequencing will cover all worksheets as a single day")
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// [ValidBackendNames].
func validateBackendName(field, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidBackendNames, name) {
		return
	}
	slog.Warn("unknown capture backend name — may be a typo or out-of-tree backend",
		"field", field,
		"name", name,
		"known", ValidBackendNames,
	)
}

// msDuration converts a millisecond count to a duration.
func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
