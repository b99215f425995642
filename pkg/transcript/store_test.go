package transcript_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/finvoice/pkg/transcript"
)

func TestAddMessage_Idempotent(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	if !s.AddMessage("item-1", transcript.RoleUser, "hello") {
		t.Fatal("first AddMessage returned false")
	}
	if s.AddMessage("item-1", transcript.RoleAssistant, "overwritten?") {
		t.Fatal("duplicate AddMessage returned true")
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Content != "hello" || e.Role != transcript.RoleUser {
		t.Errorf("entry = %+v, want original user message", e)
	}
	if e.Kind != transcript.KindMessage || e.Status != transcript.StatusInProgress {
		t.Errorf("kind/status = %s/%s, want MESSAGE/IN_PROGRESS", e.Kind, e.Status)
	}
}

func TestAddMessage_ManyIDs(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	ids := []string{"a", "b", "a", "c", "b", "a"}
	for _, id := range ids {
		s.AddMessage(id, transcript.RoleAssistant, "")
	}
	if got := len(s.Messages()); got != 3 {
		t.Errorf("len(Messages) = %d, want 3", got)
	}
}

func TestUpdateMessage_DeltaAppendsInOrder(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	s.AddMessage("m", transcript.RoleAssistant, "")
	for _, d := range []string{"Hel", "lo, ", "be", "ta"} {
		s.UpdateMessage("m", d, true)
	}
	e, _ := s.Get("m")
	if e.Content != "Hello, beta" {
		t.Errorf("content = %q, want %q", e.Content, "Hello, beta")
	}
}

func TestUpdateMessage_ReplaceOverwrites(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	s.AddMessage("m", transcript.RoleUser, "[Transcribing...]")
	s.UpdateMessage("m", "partial", true)
	s.UpdateMessage("m", "final text", false)

	e, _ := s.Get("m")
	if e.Content != "final text" {
		t.Errorf("content = %q, want %q", e.Content, "final text")
	}
}

func TestUpdateMessage_UnknownID(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	if s.UpdateMessage("missing", "x", true) {
		t.Error("UpdateMessage on unknown id returned true")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestAddEvent(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := transcript.New(transcript.WithClock(func() time.Time { return fixed }))
	id := s.AddEvent("Function call: web_search", map[string]any{"query": "fd rates"})

	if !strings.HasPrefix(id, "event-") {
		t.Errorf("event id = %q, want event- prefix", id)
	}
	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != transcript.KindEvent || e.Status != transcript.StatusDone {
		t.Errorf("kind/status = %s/%s, want EVENT/DONE", e.Kind, e.Status)
	}
	if e.Data["query"] != "fd rates" {
		t.Errorf("data = %v", e.Data)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, fixed)
	}
	if len(s.Messages()) != 0 {
		t.Error("events must not be reported as messages")
	}
}

func TestUpdateStatusAndToggle(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	s.AddMessage("m", transcript.RoleAssistant, "hi")
	if !s.UpdateStatus("m", transcript.StatusDone) {
		t.Fatal("UpdateStatus returned false")
	}
	evID := s.AddEvent("Connection closed", nil)
	s.ToggleExpand(evID)
	s.ToggleExpand(evID)
	s.ToggleExpand(evID)

	entries := s.Entries()
	if entries[0].Status != transcript.StatusDone {
		t.Errorf("status = %s, want DONE", entries[0].Status)
	}
	if !entries[1].Expanded {
		t.Error("event should be expanded after three toggles")
	}
	if s.UpdateStatus("nope", transcript.StatusDone) {
		t.Error("UpdateStatus on unknown id returned true")
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	s.AddMessage("m", transcript.RoleUser, "original")
	entries := s.Entries()
	entries[0].Content = "mutated"

	e, _ := s.Get("m")
	if e.Content != "original" {
		t.Errorf("store mutated through snapshot: %q", e.Content)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	ch, cancel := s.Subscribe()

	s.AddEvent("one", nil)
	s.AddEvent("two", nil)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal received")
	}

	cancel()
	cancel() // idempotent
	// Drain any coalesced signal, then verify no more arrive.
	select {
	case <-ch:
	default:
	}
	s.AddEvent("three", nil)
	select {
	case <-ch:
		t.Error("signal received after unsubscribe")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestConcurrentWrites(t *testing.T) {
	t.Parallel()

	s := transcript.New()
	s.AddMessage("m", transcript.RoleAssistant, "")

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateMessage("m", "x", true)
			_ = s.Entries()
		}()
	}
	wg.Wait()

	e, _ := s.Get("m")
	if len(e.Content) != 50 {
		t.Errorf("len(content) = %d, want 50", len(e.Content))
	}
}
