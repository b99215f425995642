package webrtc

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

// maxErrorBody bounds the response excerpt kept in a SignalingError.
const maxErrorBody = 512

// exchangeSDP posts the local offer and returns the remote answer.
func exchangeSDP(ctx context.Context, client *http.Client, endpoint, credential, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", &realtime.SignalingError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := client.Do(req)
	if err != nil {
		return "", &realtime.SignalingError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &realtime.SignalingError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &realtime.SignalingError{StatusCode: resp.StatusCode, Err: err}
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", &realtime.SignalingError{StatusCode: resp.StatusCode, Body: "empty SDP answer"}
	}
	return answer, nil
}
