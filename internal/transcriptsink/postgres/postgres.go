// Package postgres stores submitted transcripts in PostgreSQL.
//
// Each submission gets its own conversation id; entries keep their position
// so a conversation can be read back in order.
//
//	sink, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer sink.Close()
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/finvoice/internal/transcriptsink"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

var _ transcriptsink.Sink = (*Sink)(nil)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    conversation_id UUID         NOT NULL,
    position        INT          NOT NULL,
    item_id         TEXT         NOT NULL,
    role            TEXT         NOT NULL DEFAULT '',
    content         TEXT         NOT NULL,
    status          TEXT         NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL,
    submitted_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (conversation_id, position)
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_submitted_at
    ON transcript_entries (submitted_at);
`

// Migrate creates the transcript table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("transcript postgres: migrate: %w", err)
	}
	return nil
}

// Sink writes transcripts to a transcript_entries table.
// All methods are safe for concurrent use.
type Sink struct {
	pool  *pgxpool.Pool
	newID func() uuid.UUID
}

// New connects to dsn, pings the server and runs [Migrate].
func New(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{pool: pool, newID: uuid.New}, nil
}

// Close releases the connection pool.
func (s *Sink) Close() { s.pool.Close() }

// Ping checks that the database is reachable.
func (s *Sink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// SubmitTranscript implements [transcriptsink.Sink]. All entries of one
// submission are written in a single transaction.
func (s *Sink) SubmitTranscript(ctx context.Context, entries []transcript.Entry) error {
	_, err := s.Insert(ctx, entries)
	return err
}

// Insert writes entries as a new conversation and returns its id.
func (s *Sink) Insert(ctx context.Context, entries []transcript.Entry) (uuid.UUID, error) {
	const q = `
		INSERT INTO transcript_entries
		    (conversation_id, position, item_id, role, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	id := s.newID()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, e := range entries {
			batch.Queue(q, id, i, e.ItemID, string(e.Role), e.Content, string(e.Status), e.Timestamp)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("transcript postgres: insert: %w", err)
	}
	return id, nil
}

// Conversation returns the entries stored under id in their original order.
func (s *Sink) Conversation(ctx context.Context, id uuid.UUID) ([]transcript.Entry, error) {
	const q = `
		SELECT item_id, role, content, status, created_at
		FROM   transcript_entries
		WHERE  conversation_id = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: query: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e            transcript.Entry
			role, status string
			created      time.Time
		)
		if err := row.Scan(&e.ItemID, &role, &e.Content, &status, &created); err != nil {
			return e, err
		}
		e.Kind = transcript.KindMessage
		e.Role = transcript.Role(role)
		e.Status = transcript.Status(status)
		e.Timestamp = created
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript postgres: scan: %w", err)
	}
	return entries, nil
}
