package transcriptsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/finvoice/internal/credential"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// HTTPSink POSTs the entries as a JSON array to URL.
type HTTPSink struct {
	URL    string
	Token  credential.AccessTokenSource
	Client *http.Client
}

var _ Sink = (*HTTPSink)(nil)

// SubmitTranscript implements [Sink].
func (h *HTTPSink) SubmitTranscript(ctx context.Context, entries []transcript.Entry) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != nil {
		tok, err := h.Token.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var d struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(msg, &d) == nil && d.Detail != "" {
			return fmt.Errorf("post transcript: %d %s", resp.StatusCode, d.Detail)
		}
		return fmt.Errorf("post transcript: %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
