package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/finvoice/internal/credential"
)

// PersonaPath is appended to the backend base URL.
const PersonaPath = "/users/persona"

// maxSnapshot bounds the persona document read from the backend.
const maxSnapshot = 1 << 20

// HTTPFetcher reads the persona from GET {BaseURL}/users/persona using the
// backend access token.
type HTTPFetcher struct {
	BaseURL string
	Token   credential.AccessTokenSource
	Client  *http.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// FetchProfile implements [Fetcher].
func (f *HTTPFetcher) FetchProfile(ctx context.Context) (Snapshot, error) {
	tok, err := f.Token.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(f.BaseURL, "/")+PersonaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: fetch persona: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshot))
	if err != nil {
		return nil, fmt.Errorf("profile: read persona: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("profile: fetch persona: %d %s", resp.StatusCode, detail(body))
	}
	return Snapshot(body), nil
}

// detail extracts the backend's {"detail": "..."} message when present.
func detail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != "" {
		return e.Detail
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return strings.TrimSpace(string(body))
}
