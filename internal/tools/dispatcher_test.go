package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/internal/tools"
	"github.com/MrWong99/finvoice/pkg/agent"
	"github.com/MrWong99/finvoice/pkg/realtime"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// recordingSender captures every event passed to SendEvent.
type recordingSender struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (s *recordingSender) SendEvent(_ context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

// output returns the function_call_output item and asserts the two-event
// shape every dispatch must produce.
func (s *recordingSender) output(t *testing.T) realtime.ConversationItem {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) != 2 {
		t.Fatalf("sent %d events, want 2", len(s.events))
	}
	item, ok := s.events[0].(realtime.ConversationItemCreateEvent)
	if !ok || item.Item.Type != "function_call_output" {
		t.Fatalf("first event = %#v, want function_call_output", s.events[0])
	}
	resp, ok := s.events[1].(realtime.ControlEvent)
	if !ok || resp.Type != realtime.TypeResponseCreate {
		t.Fatalf("second event = %#v, want response.create", s.events[1])
	}
	return item.Item
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func script(names ...string) agent.Materialized {
	s := &agent.Script{Name: "advisor", Instructions: "help"}
	for _, n := range names {
		s.Tools = append(s.Tools, agent.Tool{Name: n})
	}
	return agent.Materialize(s, nil)
}

func newDispatcher(t *testing.T, reg *tools.Registry, opts ...tools.Option) (*tools.Dispatcher, *transcript.Store) {
	t.Helper()
	store := transcript.New()
	opts = append([]tools.Option{tools.WithMetrics(testMetrics(t))}, opts...)
	return tools.New(reg, store, opts...), store
}

func eventTitles(store *transcript.Store) []string {
	var titles []string
	for _, e := range store.Entries() {
		if e.Kind == transcript.KindEvent {
			titles = append(titles, e.Content)
		}
	}
	return titles
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("output %q is not a JSON object: %v", out, err)
	}
	return m
}

// ── Dispatch ──────────────────────────────────────────────────────────────────

func TestDispatch_Builtin(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	_ = reg.Register(tools.Builtin("get_rate", func(_ context.Context, args map[string]any) (any, error) {
		return map[string]any{"currency": args["currency"], "rate": 4.5}, nil
	}))
	d, store := newDispatcher(t, reg)
	var out recordingSender

	call := tools.Call{Name: "get_rate", CallID: "c1", Arguments: `{"currency":"EUR"}`}
	if err := d.Dispatch(context.Background(), call, script("get_rate"), &out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	item := out.output(t)
	if item.CallID != "c1" {
		t.Errorf("call_id = %q", item.CallID)
	}
	got := decodeOutput(t, item.Output)
	if got["currency"] != "EUR" || got["rate"] != 4.5 {
		t.Errorf("output = %v", got)
	}
	titles := eventTitles(store)
	if len(titles) != 2 || titles[0] != "Function call: get_rate" || titles[1] != "Function result: get_rate" {
		t.Errorf("events = %v", titles)
	}
}

func TestDispatch_Fallback(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	_ = reg.Register(tools.Builtin("registered_only", func(context.Context, map[string]any) (any, error) {
		t.Error("handler for an undeclared tool must not run")
		return nil, nil
	}))

	tests := []struct {
		name   string
		tool   string
		script agent.Materialized
	}{
		{"declared without handler", "web_search", script("web_search")},
		{"registered but not declared", "registered_only", script("web_search")},
		{"unknown", "nope", script()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, store := newDispatcher(t, reg)
			var out recordingSender
			call := tools.Call{Name: tt.tool, CallID: "c", Arguments: `{"query":"x"}`}
			if err := d.Dispatch(context.Background(), call, tt.script, &out); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if got := out.output(t).Output; got != `{"result":true}` {
				t.Errorf("output = %s, want {\"result\":true}", got)
			}
			titles := eventTitles(store)
			if len(titles) != 1 || titles[0] != "Function fallback: "+tt.tool {
				t.Errorf("events = %v", titles)
			}
		})
	}
}

func TestDispatch_DecodeError(t *testing.T) {
	t.Parallel()

	called := false
	reg := tools.NewRegistry()
	_ = reg.Register(tools.Builtin("get_rate", func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}))
	d, store := newDispatcher(t, reg)

	for _, args := range []string{`{not json`, `[1,2]`, `"str"`} {
		var out recordingSender
		call := tools.Call{Name: "get_rate", CallID: "c", Arguments: args}
		if err := d.Dispatch(context.Background(), call, script("get_rate"), &out); err != nil {
			t.Fatalf("Dispatch(%q): %v", args, err)
		}
		got := decodeOutput(t, out.output(t).Output)
		if msg, _ := got["error"].(string); !strings.Contains(msg, "decode arguments") {
			t.Errorf("Dispatch(%q) output = %v", args, got)
		}
	}
	if called {
		t.Error("handler ran despite undecodable arguments")
	}
	for _, title := range eventTitles(store) {
		if title != "Function error: get_rate" {
			t.Errorf("unexpected event %q", title)
		}
	}
}

func TestDispatch_EmptyArguments(t *testing.T) {
	t.Parallel()

	var got map[string]any
	reg := tools.NewRegistry()
	_ = reg.Register(tools.Builtin("ping", func(_ context.Context, args map[string]any) (any, error) {
		got = args
		return "pong", nil
	}))
	d, _ := newDispatcher(t, reg)
	var out recordingSender
	if err := d.Dispatch(context.Background(), tools.Call{Name: "ping", CallID: "c"}, script("ping"), &out); err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("args = %v, want empty map", got)
	}
	if o := out.output(t).Output; o != `"pong"` {
		t.Errorf("output = %s", o)
	}
}

func TestDispatch_ExecutionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fn      tools.Func
		wantMsg string
	}{
		{"error", func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		}, "upstream unavailable"},
		{"timeout", func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, "deadline exceeded"},
		{"ignores context", func(context.Context, map[string]any) (any, error) {
			time.Sleep(2 * time.Second)
			return "late", nil
		}, "deadline exceeded"},
		{"panic", func(context.Context, map[string]any) (any, error) {
			panic("boom")
		}, "handler panic: boom"},
		{"unmarshalable result", func(context.Context, map[string]any) (any, error) {
			return make(chan int), nil
		}, "unsupported type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg := tools.NewRegistry()
			_ = reg.Register(tools.Builtin("t", tt.fn))
			d, store := newDispatcher(t, reg, tools.WithTimeout(50*time.Millisecond))
			var out recordingSender
			if err := d.Dispatch(context.Background(), tools.Call{Name: "t", CallID: "c", Arguments: "{}"}, script("t"), &out); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			got := decodeOutput(t, out.output(t).Output)
			if msg, _ := got["error"].(string); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error output = %q, want it to contain %q", msg, tt.wantMsg)
			}
			titles := eventTitles(store)
			if len(titles) != 2 || titles[1] != "Function error: t" {
				t.Errorf("events = %v", titles)
			}
		})
	}
}

func TestDispatch_SendFailureStillSendsResponseCreate(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, tools.NewRegistry())
	out := &recordingSender{err: realtime.ErrChannelNotOpen}
	err := d.Dispatch(context.Background(), tools.Call{Name: "x", CallID: "c"}, script(), out)
	if !errors.Is(err, realtime.ErrChannelNotOpen) {
		t.Errorf("err = %v, want ErrChannelNotOpen", err)
	}
	out.output(t)
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }

	if err := reg.Register(tools.Handler{Name: "", Fn: noop}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register(tools.Handler{Name: "x"}); err == nil {
		t.Error("expected error for nil func")
	}
	_ = reg.Register(tools.Builtin("zeta", noop))
	_ = reg.Register(tools.Handler{Name: "alpha", Kind: tools.KindMCP, Server: "rates", Fn: noop})
	_ = reg.Register(tools.Handler{Name: "beta", Kind: tools.KindMCP, Server: "other", Fn: noop})

	hs := reg.Handlers()
	if len(hs) != 3 || hs[0].Name != "alpha" || hs[2].Name != "zeta" {
		t.Errorf("Handlers() = %v", hs)
	}
	if h := reg.Lookup("missing"); h.Kind != tools.KindFallback || h.Name != "missing" {
		t.Errorf("Lookup(missing) = %+v", h)
	}

	reg.Unregister("rates")
	if h := reg.Lookup("alpha"); h.Kind != tools.KindFallback {
		t.Error("alpha still registered after Unregister(rates)")
	}
	if h := reg.Lookup("beta"); h.Kind != tools.KindMCP {
		t.Error("beta removed by Unregister(rates)")
	}
	if h := reg.Lookup("zeta"); h.Kind != tools.KindBuiltin {
		t.Error("builtin removed by Unregister")
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	for k, want := range map[tools.Kind]string{
		tools.KindBuiltin: "builtin", tools.KindMCP: "mcp", tools.KindFallback: "fallback", tools.Kind(9): "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
