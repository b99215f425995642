package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/finvoice/internal/transcriptsink/postgres"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if FINVOICE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FINVOICE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FINVOICE_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestSink(t *testing.T) *postgres.Sink {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcript_entries"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	pool.Close()

	sink, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sink.Close)
	return sink
}

func TestSink_InsertAndRead(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	entries := []transcript.Entry{
		{ItemID: "a", Kind: transcript.KindMessage, Role: transcript.RoleUser, Content: "hi", Status: transcript.StatusDone, Timestamp: now},
		{ItemID: "b", Kind: transcript.KindMessage, Role: transcript.RoleAssistant, Content: "Namaste! How can I help?", Status: transcript.StatusDone, Timestamp: now.Add(time.Second)},
		{ItemID: "c", Kind: transcript.KindMessage, Role: transcript.RoleUser, Content: "[Transcribing...]", Status: transcript.StatusInProgress, Timestamp: now.Add(2 * time.Second)},
	}
	id, err := sink.Insert(ctx, entries)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := sink.Conversation(ctx, id)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		w, g := entries[i], got[i]
		if g.ItemID != w.ItemID || g.Role != w.Role || g.Content != w.Content || g.Status != w.Status || !g.Timestamp.Equal(w.Timestamp) {
			t.Errorf("entry %d = %+v, want %+v", i, g, w)
		}
	}
}

func TestSink_SeparateConversations(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	one := []transcript.Entry{{ItemID: "x", Role: transcript.RoleUser, Content: "first", Status: transcript.StatusDone, Timestamp: time.Now()}}
	idA, err := sink.Insert(ctx, one)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.SubmitTranscript(ctx, one); err != nil {
		t.Fatal(err)
	}
	got, err := sink.Conversation(ctx, idA)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("conversation A has %d entries, want 1", len(got))
	}
}
