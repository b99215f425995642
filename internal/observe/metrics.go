// Package observe holds the telemetry of a finvoice agent: session and tool
// metrics, spans tagged with the realtime session id, and the middleware of
// the operational HTTP endpoints.
//
// Metrics go through the OpenTelemetry API and are scraped from /metrics once
// [InitProvider] has run. Tests build [Metrics] on a ManualReader provider
// with [NewMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/finvoice"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// ConnectDuration tracks how long session establishment takes, from the
	// connect request until negotiation returns.
	ConnectDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler latency. Use with attribute:
	//   attribute.String("tool", ...)
	ToolExecutionDuration metric.Float64Histogram

	// SessionConnects counts connection attempts. Use with attribute:
	//   attribute.String("status", "ok"|"degraded"|"error")
	SessionConnects metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ServerEvents counts inbound realtime events. Use with attribute:
	//   attribute.String("type", ...)
	ServerEvents metric.Int64Counter

	// CollaboratorErrors counts failures of external collaborators. Use with
	// attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...)
	CollaboratorErrors metric.Int64Counter

	// ActiveSessions tracks the number of connected sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("finvoice.session.connect.duration",
		metric.WithDescription("Latency of realtime session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("finvoice.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SessionConnects, err = m.Int64Counter("finvoice.session.connects",
		metric.WithDescription("Total connection attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("finvoice.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ServerEvents, err = m.Int64Counter("finvoice.server.events",
		metric.WithDescription("Total inbound realtime events by type."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("finvoice.collaborator.errors",
		metric.WithDescription("Total collaborator failures by collaborator and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("finvoice.active_sessions",
		metric.WithDescription("Number of connected realtime sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("finvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnect records one connection attempt with its outcome and latency.
func (m *Metrics) RecordConnect(ctx context.Context, status string, seconds float64) {
	m.SessionConnects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.ConnectDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordServerEvent counts one inbound event.
func (m *Metrics) RecordServerEvent(ctx context.Context, eventType string) {
	m.ServerEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordCollaboratorError counts one collaborator failure.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, kind string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
		),
	)
}
