// Package observe provides application-wide observability primitives for
// Aphelia: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Aphelia metrics.
const meterName = "github.com/aphelia-health/aphelia"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation. A nil *Metrics is valid: every convenience
// method becomes a no-op, which lets components run unobserved in tests.
type Metrics struct {
	// --- Latency histograms ---

	// CaptureDuration tracks the length of one capture cycle, from start to
	// terminal event. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("variant", ...), attribute.String("outcome", ...)
	CaptureDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// TrialOutcomes counts scored recognition results. Use with attributes:
	//   attribute.String("variant", ...), attribute.String("outcome", ...)
	TrialOutcomes metric.Int64Counter

	// HintRequests counts hint escalations. Use with attribute:
	//   attribute.Int("level", ...)
	HintRequests metric.Int64Counter

	// FallbackReveals counts touch-fallback panel activations. Use with
	// attribute:
	//   attribute.String("variant", ...)
	FallbackReveals metric.Int64Counter

	// --- Error counters ---

	// CaptureErrors counts terminal capture errors. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	CaptureErrors metric.Int64Counter

	// TrialWriteErrors counts failed trial-log writes. Write failures are
	// swallowed by the recorder, so this counter is the only place they
	// remain visible.
	TrialWriteErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCaptures tracks the number of currently open capture sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live therapy sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-capture cycles, which run from under a second up to the no-input
// timeout range.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CaptureDuration, err = m.Float64Histogram("aphelia.capture.duration",
		metric.WithDescription("Length of one speech-capture cycle from start to terminal event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aphelia.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TrialOutcomes, err = m.Int64Counter("aphelia.trial.outcomes",
		metric.WithDescription("Scored recognition results by variant and outcome."),
	); err != nil {
		return nil, err
	}
	if met.HintRequests, err = m.Int64Counter("aphelia.hint.requests",
		metric.WithDescription("Hint escalations by level."),
	); err != nil {
		return nil, err
	}
	if met.FallbackReveals, err = m.Int64Counter("aphelia.fallback.reveals",
		metric.WithDescription("Touch-fallback panel activations by task variant."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CaptureErrors, err = m.Int64Counter("aphelia.capture.errors",
		metric.WithDescription("Terminal capture errors by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.TrialWriteErrors, err = m.Int64Counter("aphelia.trial.write_errors",
		metric.WithDescription("Failed trial-log writes."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCaptures, err = m.Int64UpDownCounter("aphelia.active_captures",
		metric.WithDescription("Number of currently open capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("aphelia.active_sessions",
		metric.WithDescription("Number of live therapy sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCapture records one completed capture cycle with the standard
// attribute set.
func (m *Metrics) RecordCapture(ctx context.Context, backend, variant, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CaptureDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("variant", variant),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordTrialOutcome records one scored recognition result.
func (m *Metrics) RecordTrialOutcome(ctx context.Context, variant string, pass bool) {
	if m == nil {
		return
	}
	outcome := "retry"
	if pass {
		outcome = "pass"
	}
	m.TrialOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("variant", variant),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordHintRequest records one hint escalation at the level just shown.
func (m *Metrics) RecordHintRequest(ctx context.Context, level int) {
	if m == nil {
		return
	}
	m.HintRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("level", level)),
	)
}

// RecordFallbackReveal records one touch-fallback panel activation.
func (m *Metrics) RecordFallbackReveal(ctx context.Context, variant string) {
	if m == nil {
		return
	}
	m.FallbackReveals.Add(ctx, 1,
		metric.WithAttributes(attribute.String("variant", variant)),
	)
}

// RecordCaptureError records one terminal capture error.
func (m *Metrics) RecordCaptureError(ctx context.Context, backend, kind string) {
	if m == nil {
		return
	}
	m.CaptureErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}

// RecordTrialWriteError records one swallowed trial-log write failure.
func (m *Metrics) RecordTrialWriteError(ctx context.Context) {
	if m == nil {
		return
	}
	m.TrialWriteErrors.Add(ctx, 1)
}

// AddActiveCaptures adjusts the open-capture gauge by delta.
func (m *Metrics) AddActiveCaptures(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveCaptures.Add(ctx, delta)
}

// AddActiveSessions adjusts the live-session gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}
