// Package credential reads the tokens the login flow leaves behind: the
// short-lived realtime token used for signaling and the backend access token
// used for profile and transcript calls.
//
// Tokens are only read here. Issuing and refreshing them is the job of the
// auth flow.
package credential

import (
	"context"
	"errors"
	"strings"
)

// Keys under which the login flow stores its tokens.
const (
	KeyEphemeralToken = "openai_ephemeral_token"
	KeyAccessToken    = "access_token"
)

// ErrNoCredential is returned when no token is available.
var ErrNoCredential = errors.New("credential: no credential available")

// Source yields the short-lived realtime token for one session attempt.
type Source interface {
	ShortLivedToken(ctx context.Context) (string, error)
}

// AccessTokenSource yields the bearer token for backend calls.
type AccessTokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Store reads tokens by key. A missing or blank token reports
// [ErrNoCredential].
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// Static is a fixed token pair, mostly for tests and one-off runs.
type Static struct {
	Ephemeral string
	Access    string
}

func (s Static) Get(_ context.Context, key string) (string, error) {
	var v string
	switch key {
	case KeyEphemeralToken:
		v = s.Ephemeral
	case KeyAccessToken:
		v = s.Access
	}
	return nonEmpty(v)
}

func nonEmpty(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}
