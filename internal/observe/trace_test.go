package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// tracingSetup registers an in-memory tracer provider globally and returns
// its exporter for span inspection.
func tracingSetup(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

// captureLog swaps the default logger for one writing to the returned
// builder.
func captureLog(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	tracingSetup(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("outside a trace: correlation ID = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "toggle capture")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	tracingSetup(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "start day")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("correlation ID %s issued twice", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestStartSpan_RecordsName(t *testing.T) {
	exp := tracingSetup(t)

	_, span := StartSpan(context.Background(), "select fallback")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "select fallback" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "select fallback")
	}
}

func TestLogger_CarriesTraceIDs(t *testing.T) {
	tracingSetup(t)
	buf := captureLog(t)

	ctx, span := StartSpan(context.Background(), "request hint")
	defer span.End()

	Logger(ctx).Info("hint issued", "user_id", "alice")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log line missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}
}

func TestLogger_PlainOutsideTrace(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("hint issued")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line outside a trace has trace_id: %s", out)
	}
}
