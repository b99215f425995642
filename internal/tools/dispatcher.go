package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/pkg/agent"
	"github.com/MrWong99/finvoice/pkg/realtime"
)

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// Sender delivers one client event over the live session.
type Sender interface {
	SendEvent(ctx context.Context, event any) error
}

// Recorder receives the user-visible EVENT entries of a dispatch.
type Recorder interface {
	AddEvent(title string, data map[string]any) string
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithTimeout overrides [DefaultTimeout]. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// Dispatcher executes tool calls and reports their output.
type Dispatcher struct {
	registry *Registry
	recorder Recorder
	timeout  time.Duration
	log      *slog.Logger
	metrics  *observe.Metrics
}

// New returns a Dispatcher resolving handlers from reg and recording EVENT
// entries to rec.
func New(reg *Registry, rec Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		recorder: rec,
		timeout:  DefaultTimeout,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch runs call against the tools declared by script and sends exactly
// one function_call_output item followed by exactly one response.create,
// whatever the outcome of the handler. The returned error only reports
// send failures.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call, script agent.Materialized, out Sender) error {
	ctx, span := observe.StartSpan(ctx, "tools.dispatch",
		trace.WithAttributes(attribute.String("tool", call.Name), attribute.String("call_id", call.CallID)))
	defer span.End()

	output := d.execute(ctx, call, script)

	errOut := out.SendEvent(ctx, realtime.FunctionCallOutput(call.CallID, output))
	errResp := out.SendEvent(ctx, realtime.ResponseCreate())
	if err := errors.Join(errOut, errResp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("tools: send result for %q: %w", call.Name, err)
	}
	return nil
}

// execute returns the JSON output string for call.
func (d *Dispatcher) execute(ctx context.Context, call Call, script agent.Materialized) string {
	args, err := decodeArgs(call.Arguments)
	if err != nil {
		derr := &DecodeError{Tool: call.Name, Err: err}
		d.log.Warn("tools: bad arguments", "tool", call.Name, "err", err)
		d.recorder.AddEvent("Function error: "+call.Name, map[string]any{
			"error":     derr.Error(),
			"arguments": call.Arguments,
		})
		d.metrics.RecordToolCall(ctx, call.Name, "decode_error")
		return errorOutput(derr)
	}

	h := d.resolve(call.Name, script)
	if h.Kind == KindFallback {
		d.recorder.AddEvent("Function fallback: "+call.Name, args)
		result, _ := h.Fn(ctx, args)
		d.metrics.RecordToolCall(ctx, call.Name, "fallback")
		out, _ := json.Marshal(result)
		return string(out)
	}

	d.recorder.AddEvent("Function call: "+call.Name, args)
	start := time.Now()
	result, err := d.invoke(ctx, h, args)
	d.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("tool", call.Name)))

	var output []byte
	if err == nil {
		output, err = json.Marshal(result)
	}
	if err != nil {
		eerr := &ExecutionError{Tool: call.Name, Err: err}
		d.log.Warn("tools: handler failed", "tool", call.Name, "kind", h.Kind.String(), "err", err)
		d.recorder.AddEvent("Function error: "+call.Name, map[string]any{"error": eerr.Error()})
		d.metrics.RecordToolCall(ctx, call.Name, "error")
		return errorOutput(eerr)
	}

	d.recorder.AddEvent("Function result: "+call.Name, map[string]any{"result": result})
	d.metrics.RecordToolCall(ctx, call.Name, "ok")
	return string(output)
}

// resolve returns the registered handler when script declares the tool, and
// [Fallback] otherwise.
func (d *Dispatcher) resolve(name string, script agent.Materialized) Handler {
	if _, ok := script.Tool(name); !ok {
		d.log.Debug("tools: tool not declared by agent", "tool", name, "agent", script.Name)
		return Fallback(name)
	}
	return d.registry.Lookup(name)
}

// invoke runs h with the per-call timeout. A handler that ignores its
// context is abandoned when the timeout fires.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, args map[string]any) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		v, err := h.Fn(ctx, args)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodeArgs parses a JSON object. Empty input and null decode to an empty map.
func decodeArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func errorOutput(err error) string {
	out, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(out)
}
