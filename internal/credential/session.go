package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SessionEndpoint mints ephemeral tokens from a backend route answering
// GET with {"client_secret":{"value":"..."}}. It only serves
// [KeyEphemeralToken].
type SessionEndpoint struct {
	URL    string
	Client *http.Client

	// Auth, when set, supplies a bearer token for the request.
	Auth AccessTokenSource
}

var _ Store = (*SessionEndpoint)(nil)

type sessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Get implements [Store].
func (s *SessionEndpoint) Get(ctx context.Context, key string) (string, error) {
	if key != KeyEphemeralToken || s.URL == "" {
		return "", ErrNoCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", fmt.Errorf("credential: build session request: %w", err)
	}
	if s.Auth != nil {
		tok, err := s.Auth.AccessToken(ctx)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("credential: session endpoint returned %d: %s", resp.StatusCode, body)
	}
	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("credential: decode session response: %w", err)
	}
	if sr.ClientSecret.Value == "" {
		return "", fmt.Errorf("credential: session response has no client secret: %w", ErrNoCredential)
	}
	return sr.ClientSecret.Value, nil
}
