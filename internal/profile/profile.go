// Package profile fetches the user persona snapshot from the backend and
// caches it for persona injection.
//
// The snapshot is opaque: the only thing this package checks is that it is
// valid JSON.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/finvoice/internal/resilience"
)

// Snapshot is the persona document as returned by the backend.
type Snapshot json.RawMessage

// Raw returns s as a json.RawMessage.
func (s Snapshot) Raw() json.RawMessage { return json.RawMessage(s) }

// ErrNotCached is returned by [Cache.Get] when nothing is stored.
var ErrNotCached = errors.New("profile: no cached snapshot")

// ErrInvalidSnapshot is returned for payloads that are not valid JSON.
var ErrInvalidSnapshot = errors.New("profile: snapshot is not valid JSON")

// Fetcher retrieves the current snapshot from the backend.
type Fetcher interface {
	FetchProfile(ctx context.Context) (Snapshot, error)
}

// Cache holds the most recent snapshot.
type Cache interface {
	Get(ctx context.Context) (Snapshot, error)
	Store(ctx context.Context, snap Snapshot) error
}

// RefreshError reports a failed refresh. The previously cached snapshot, if
// any, stays in place.
type RefreshError struct {
	// Stage is "fetch", "validate" or "store".
	Stage string
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("profile: refresh failed at %s: %v", e.Stage, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithBreaker overrides the circuit breaker guarding fetches.
func WithBreaker(cb *resilience.CircuitBreaker) Option { return func(s *Service) { s.breaker = cb } }

// Service refreshes the cache from the fetcher.
type Service struct {
	fetcher Fetcher
	cache   Cache
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

// NewService returns a Service. A nil cache defaults to a [MemoryCache].
func NewService(f Fetcher, c Cache, opts ...Option) *Service {
	s := &Service{fetcher: f, cache: c, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = &MemoryCache{}
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "profile",
			MaxFailures:  3,
			ResetTimeout: time.Minute,
			Logger:       s.log,
		})
	}
	return s
}

// Refresh fetches a fresh snapshot and stores it. Errors are *RefreshError.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	if s.fetcher == nil {
		return nil, &RefreshError{Stage: "fetch", Err: errors.New("no profile source configured")}
	}

	var snap Snapshot
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = s.fetcher.FetchProfile(ctx)
		return err
	})
	if err != nil {
		return nil, &RefreshError{Stage: "fetch", Err: err}
	}
	if !json.Valid(snap) {
		return nil, &RefreshError{Stage: "validate", Err: ErrInvalidSnapshot}
	}
	if err := s.cache.Store(ctx, snap); err != nil {
		return snap, &RefreshError{Stage: "store", Err: err}
	}
	s.log.Debug("profile: refreshed", "bytes", len(snap))
	return snap, nil
}

// Cached returns the latest stored snapshot, or nil when there is none or
// the cache cannot be read.
func (s *Service) Cached(ctx context.Context) Snapshot {
	snap, err := s.cache.Get(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotCached) {
			s.log.Warn("profile: read cache", "err", err)
		}
		return nil
	}
	return snap
}
