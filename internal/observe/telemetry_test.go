package observe

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider for the test. Tests using
// it touch the global provider and must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func spanAttr(s tracetest.SpanStub, key string) (string, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartSpan_SessionID(t *testing.T) {
	exp := useTracer(t)

	ctx := WithSession(context.Background(), "sess_123")
	_, span := StartSpan(ctx, "tools.dispatch")
	span.End()
	_, span = StartSpan(context.Background(), "session.connect")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if got, ok := spanAttr(spans[0], string(AttrSessionID)); !ok || got != "sess_123" {
		t.Errorf("session attribute = %q, %v; want sess_123", got, ok)
	}
	if _, ok := spanAttr(spans[1], string(AttrSessionID)); ok {
		t.Error("span without session carries a session attribute")
	}
}

func TestWithSession_Empty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := WithSession(ctx, ""); got != ctx {
		t.Error("empty id wrapped the context")
	}
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
}

func TestTraceID(t *testing.T) {
	useTracer(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID without span = %q, want empty", got)
	}
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	if got := TraceID(ctx); len(got) != 32 {
		t.Errorf("TraceID = %q, want 32 hex chars", got)
	}
}

func TestInitProvider_TargetInfo(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(ctx, ProviderConfig{
		Version:     "1.2.3",
		AgentScript: "agents/advisor.yaml",
		Transport:   "websocket",
		Registerer:  reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(ctx) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordConnect(ctx, "ok", 0.2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	labels := map[string]string{}
	for _, mf := range families {
		if mf.GetName() != "target_info" {
			continue
		}
		for _, met := range mf.GetMetric() {
			for _, lp := range met.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
		}
	}
	if len(labels) == 0 {
		t.Fatal("target_info not exported")
	}
	if got := labels["finvoice_agent_script"]; got != "agents/advisor.yaml" {
		t.Errorf("agent script label = %q, labels = %v", got, labels)
	}
	if got := labels["finvoice_realtime_transport"]; got != "websocket" {
		t.Errorf("transport label = %q", got)
	}
	if got := labels["service_version"]; got != "1.2.3" {
		t.Errorf("service_version label = %q", got)
	}
}
