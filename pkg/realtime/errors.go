package realtime

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is wrapped by a [MediaAccessError] whose reason is
// [ReasonPermissionDenied].
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrChannelNotOpen is returned by [DataChannel.Send] before open or after
// close.
var ErrChannelNotOpen = errors.New("realtime: data channel not open")

// MediaReason classifies a [MediaAccessError].
type MediaReason int

const (
	// ReasonUnavailable means no capture API or device exists.
	ReasonUnavailable MediaReason = iota

	// ReasonInsecureContext means capture was refused because the session
	// is negotiated with a non-TLS, non-loopback endpoint.
	ReasonInsecureContext

	// ReasonPermissionDenied means the OS or user refused access.
	ReasonPermissionDenied
)

// String returns a short label for r.
func (r MediaReason) String() string {
	switch r {
	case ReasonUnavailable:
		return "unavailable"
	case ReasonInsecureContext:
		return "insecure-context"
	case ReasonPermissionDenied:
		return "permission-denied"
	default:
		return "unknown"
	}
}

// MediaAccessError reports that local audio capture could not be started.
// Negotiators degrade to a silent track instead of failing on it.
type MediaAccessError struct {
	Reason MediaReason
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("realtime: media access (%s)", e.Reason)
	}
	return fmt.Sprintf("realtime: media access (%s): %v", e.Reason, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermissionDenied) hold for permission denials
// even when the underlying cause is a driver-specific error.
func (e *MediaAccessError) Is(target error) bool {
	return target == ErrPermissionDenied && e.Reason == ReasonPermissionDenied
}

// SignalingError reports a failed offer/answer exchange.
type SignalingError struct {
	// StatusCode is the HTTP status returned by the endpoint, or 0 when the
	// request did not complete.
	StatusCode int

	// Body is a short excerpt of the response body.
	Body string

	Err error
}

func (e *SignalingError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("realtime: signaling failed with status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("realtime: signaling failed with status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("realtime: signaling: %v", e.Err)
	default:
		return "realtime: signaling failed"
	}
}

func (e *SignalingError) Unwrap() error { return e.Err }
