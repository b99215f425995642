package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/finvoice/internal/resilience"
)

// Chain consults several stores in order and returns the first token found.
// A store that keeps failing (as opposed to simply having no token) is
// skipped for a while by its circuit breaker.
type Chain struct {
	group *resilience.FallbackGroup[Store]
}

var (
	_ Source            = (*Chain)(nil)
	_ AccessTokenSource = (*Chain)(nil)
)

// Named pairs a store with the name used in logs.
type Named struct {
	Name  string
	Store Store
}

// NewChain builds a chain over stores. It panics when stores is empty.
func NewChain(log *slog.Logger, stores ...Named) *Chain {
	if len(stores) == 0 {
		panic("credential: NewChain needs at least one store")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures: 3,
		Logger:      log,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, ErrNoCredential) && !errors.Is(err, context.Canceled)
		},
	}}
	g := resilience.NewFallbackGroup(stores[0].Store, stores[0].Name, cfg)
	for _, s := range stores[1:] {
		g.AddFallback(s.Name, s.Store)
	}
	return &Chain{group: g}
}

// ShortLivedToken implements [Source].
func (c *Chain) ShortLivedToken(ctx context.Context) (string, error) {
	return c.get(ctx, KeyEphemeralToken)
}

// AccessToken implements [AccessTokenSource].
func (c *Chain) AccessToken(ctx context.Context) (string, error) {
	return c.get(ctx, KeyAccessToken)
}

// Get implements [Store], so chains nest.
func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	return c.get(ctx, key)
}

func (c *Chain) get(ctx context.Context, key string) (string, error) {
	tok, err := resilience.ExecuteWithResult(c.group, func(s Store) (string, error) {
		return s.Get(ctx, key)
	})
	if err == nil {
		return tok, nil
	}
	if errors.Is(err, ErrNoCredential) {
		return "", fmt.Errorf("credential: %s: %w", key, ErrNoCredential)
	}
	return "", fmt.Errorf("credential: %s: %w", key, err)
}

// StoreSource adapts a single [Store] to [Source] and [AccessTokenSource].
type StoreSource struct{ Store Store }

func (s StoreSource) ShortLivedToken(ctx context.Context) (string, error) {
	return s.Store.Get(ctx, KeyEphemeralToken)
}

func (s StoreSource) AccessToken(ctx context.Context) (string, error) {
	return s.Store.Get(ctx, KeyAccessToken)
}
