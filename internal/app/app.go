// Package app wires all Aphelia subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTrialStore, WithProgressStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aphelia-health/aphelia/internal/config"
	"github.com/aphelia-health/aphelia/internal/curriculum"
	"github.com/aphelia-health/aphelia/internal/health"
	"github.com/aphelia-health/aphelia/internal/observe"
	"github.com/aphelia-health/aphelia/internal/trial"
	"github.com/aphelia-health/aphelia/internal/trial/postgres"
	"github.com/aphelia-health/aphelia/pkg/capture"
	"github.com/aphelia-health/aphelia/pkg/capture/route"
)

// shutdownGrace bounds the HTTP server drain when the run context ends.
const shutdownGrace = 10 * time.Second

// Providers holds the capture backends the routing policy chooses between.
// Nil means the backend is not configured. Populated by main.go via the
// config registry.
type Providers struct {
	Local capture.Provider
	Cloud capture.Provider
}

// App owns all subsystem lifetimes and serves the therapy API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store    trial.Store
	recorder *trial.AsyncRecorder
	progress ProgressStore
	library  *curriculum.Library
	metrics  *observe.Metrics
	router   *route.Router
	sessions *SessionManager
	health   *health.Handler
	server   *http.Server

	// closers are called in reverse-init order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTrialStore injects a trial log instead of creating one from config.
func WithTrialStore(s trial.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProgressStore injects a progress store instead of creating one from
// config.
func WithProgressStore(p ProgressStore) Option {
	return func(a *App) { a.progress = p }
}

// WithLibrary injects a curriculum library instead of loading the
// configured files.
func WithLibrary(l *curriculum.Library) Option {
	return func(a *App) { a.library = l }
}

// WithMetrics injects a metrics bundle instead of using the no-op default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use
// Option functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: trial store connection,
// curriculum loading, session manager construction, and the HTTP surface.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Trial log + progress ──────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Async recorder ────────────────────────────────────────────────
	a.recorder = trial.NewAsyncRecorder(a.store)
	a.closers = append(a.closers, func() error {
		a.recorder.Wait()
		return nil
	})

	// ── 3. Curriculum ────────────────────────────────────────────────────
	if err := a.initLibrary(); err != nil {
		return nil, fmt.Errorf("app: init curriculum: %w", err)
	}

	// ── 4. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.recorder.OnError = func(error) {
		a.metrics.RecordTrialWriteError(context.Background())
	}

	// ── 5. Capture routing + session manager ─────────────────────────────
	a.router = route.New(providers.Local, providers.Cloud)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Library:  a.library,
		Router:   a.router,
		Matcher:  cfg.Engine.Matcher(),
		Recorder: a.recorder,
		Progress: a.progress,
		Metrics:  a.metrics,
		Delays:   cfg.Engine.Delays(),
	})

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores sets up the trial log and progress stores, PostgreSQL when a
// DSN is configured and in-memory otherwise.
func (a *App) initStores(ctx context.Context) error {
	if a.store != nil && a.progress != nil {
		return nil // both injected
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, trials and progress are in-memory only")
		if a.store == nil {
			a.store = trial.NewMemStore()
		}
		if a.progress == nil {
			a.progress = NewMemProgress()
		}
		return nil
	}

	pg, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	if a.store == nil {
		a.store = pg
	}
	if a.progress == nil {
		prog, err := postgres.NewProgress(ctx, pg.Pool())
		if err != nil {
			return err
		}
		a.progress = prog
	}
	return nil
}

// initLibrary loads the configured curriculum files unless a library was
// injected.
func (a *App) initLibrary() error {
	if a.library != nil {
		return nil
	}

	cc := a.cfg.Curriculum

	tasks, err := curriculum.LoadWorksheets(cc.WorksheetsFile)
	if err != nil {
		return fmt.Errorf("load worksheets %q: %w", cc.WorksheetsFile, err)
	}

	var days []curriculum.Day
	if cc.DaysFile != "" {
		days, err = curriculum.LoadDays(cc.DaysFile)
		if err != nil {
			return fmt.Errorf("load days %q: %w", cc.DaysFile, err)
		}
	} else {
		// No daily plan: all worksheets become a single day.
		d := curriculum.Day{Day: 1}
		for i := range tasks {
			d.Tasks = append(d.Tasks, tasks[i].Index)
		}
		days = []curriculum.Day{d}
	}

	var scenarios []curriculum.Scenario
	if cc.ScenariosFile != "" {
		scenarios, err = curriculum.LoadScenarios(cc.ScenariosFile)
		if err != nil {
			return fmt.Errorf("load scenarios %q: %w", cc.ScenariosFile, err)
		}
	}

	lib, err := curriculum.NewLibrary(tasks, days, scenarios)
	if err != nil {
		return err
	}
	a.library = lib

	slog.Info("curriculum loaded",
		"worksheets", lib.TotalWorksheets(),
		"last_day", lib.LastDay(),
	)
	return nil
}

// initHTTP builds the mux and the server. Readiness includes a trial
// store ping when the store supports it.
func (a *App) initHTTP() {
	var checkers []health.Checker
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.PingCheck("trial-store", p))
	}
	a.health = health.New(checkers...)

	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/summary", a.handleSummary)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.HandleFunc("GET /api/progress", a.handleProgress)
	mux.HandleFunc("GET /api/audio", a.handleAudio)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Sessions exposes the session manager for transport handlers and tests.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. The listener is drained gracefully on cancellation.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("https server listening", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("http server listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			slog.Warn("http drain error", "err", err)
		}
		return ctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems: active sessions first, then the
// closers registered during New in reverse-init order, so the async
// recorder drains before the store it writes to closes. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.sessions.StopAll(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
