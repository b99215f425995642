// Package transcriptsink hands the finished conversation to the backend when
// a session disconnects.
//
// Submission is best effort. A failed submission is logged by the caller and
// never blocks teardown.
package transcriptsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/finvoice/internal/resilience"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// Sink receives the MESSAGE entries of a conversation, in order.
type Sink interface {
	SubmitTranscript(ctx context.Context, entries []transcript.Entry) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, entries []transcript.Entry) error

func (f SinkFunc) SubmitTranscript(ctx context.Context, entries []transcript.Entry) error {
	return f(ctx, entries)
}

// Discard accepts and drops every transcript.
var Discard Sink = SinkFunc(func(context.Context, []transcript.Entry) error { return nil })

// SubmitError reports a failed submission.
type SubmitError struct {
	Entries int
	Err     error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("transcriptsink: submit %d entries: %v", e.Entries, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Submit hands entries to s. Empty transcripts are not submitted. Any failure
// is returned as *SubmitError.
func Submit(ctx context.Context, s Sink, entries []transcript.Entry) error {
	if s == nil || len(entries) == 0 {
		return nil
	}
	if err := s.SubmitTranscript(ctx, entries); err != nil {
		return &SubmitError{Entries: len(entries), Err: err}
	}
	return nil
}

// Guarded wraps a sink with a circuit breaker so a dead backend is not
// retried on every disconnect.
type Guarded struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps s. A nil breaker gets a default one named "transcript".
func NewGuarded(s Sink, cb *resilience.CircuitBreaker, log *slog.Logger) *Guarded {
	if cb == nil {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "transcript",
			MaxFailures:  3,
			ResetTimeout: 5 * time.Minute,
			Logger:       log,
		})
	}
	return &Guarded{sink: s, breaker: cb}
}

// SubmitTranscript implements [Sink].
func (g *Guarded) SubmitTranscript(ctx context.Context, entries []transcript.Entry) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.sink.SubmitTranscript(ctx, entries)
	})
}
