package transcriptsink_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/finvoice/internal/credential"
	"github.com/MrWong99/finvoice/internal/resilience"
	"github.com/MrWong99/finvoice/internal/transcriptsink"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

func messages() []transcript.Entry {
	return []transcript.Entry{
		{ItemID: "u1", Kind: transcript.KindMessage, Role: transcript.RoleUser, Content: "hi", Status: transcript.StatusDone},
		{ItemID: "a1", Kind: transcript.KindMessage, Role: transcript.RoleAssistant, Content: "Hello!", Status: transcript.StatusDone},
	}
}

func TestHTTPSink(t *testing.T) {
	t.Parallel()

	var (
		gotAuth, gotType string
		gotBody          []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	s := &transcriptsink.HTTPSink{
		URL:    srv.URL + "/transcript",
		Token:  credential.StoreSource{Store: credential.Static{Access: "acc"}},
		Client: srv.Client(),
	}
	if err := s.SubmitTranscript(context.Background(), messages()); err != nil {
		t.Fatalf("SubmitTranscript: %v", err)
	}
	if gotAuth != "Bearer acc" || gotType != "application/json" {
		t.Errorf("headers auth=%q type=%q", gotAuth, gotType)
	}
	if len(gotBody) != 2 || gotBody[0]["itemId"] != "u1" || gotBody[1]["content"] != "Hello!" || gotBody[1]["role"] != "assistant" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestHTTPSink_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":"bad transcript"}`)
	}))
	t.Cleanup(srv.Close)

	s := &transcriptsink.HTTPSink{URL: srv.URL, Client: srv.Client()}
	err := s.SubmitTranscript(context.Background(), messages())
	if err == nil || !strings.Contains(err.Error(), "422 bad transcript") {
		t.Fatalf("err = %v", err)
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	sink := transcriptsink.SinkFunc(func(context.Context, []transcript.Entry) error {
		calls++
		return boom
	})

	if err := transcriptsink.Submit(context.Background(), sink, nil); err != nil || calls != 0 {
		t.Fatalf("empty transcript: err=%v calls=%d", err, calls)
	}
	err := transcriptsink.Submit(context.Background(), sink, messages())
	var serr *transcriptsink.SubmitError
	if !errors.As(err, &serr) || serr.Entries != 2 || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want SubmitError wrapping boom", err)
	}
	if err := transcriptsink.Submit(context.Background(), transcriptsink.Discard, messages()); err != nil {
		t.Fatalf("Discard: %v", err)
	}
}

func TestGuarded(t *testing.T) {
	t.Parallel()

	calls := 0
	sink := transcriptsink.SinkFunc(func(context.Context, []transcript.Entry) error {
		calls++
		return errors.New("unreachable")
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour, Logger: log})
	g := transcriptsink.NewGuarded(sink, cb, log)

	for range 4 {
		_ = g.SubmitTranscript(context.Background(), messages())
	}
	if calls != 2 {
		t.Errorf("sink called %d times, want 2", calls)
	}
	if err := g.SubmitTranscript(context.Background(), messages()); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}
