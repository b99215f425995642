// Package realtime defines the seams between the session orchestrator and a
// remote realtime inference service: the client/server event protocol, the
// data channel carrying it, and the [Negotiator] that establishes the
// media+data session.
//
// Transport implementations live in sub-packages: webrtc (pion peer
// connection with audio tracks and a data channel) and websocket (text-only
// socket to the same service). Both deliver data-channel lifecycle and
// message callbacks as [ChannelEvent] values on a single ordered stream, so
// the consumer can process them from one goroutine without locking.
package realtime

import (
	"context"
	"net"
	"net/url"
)

// DataChannelLabel is the name of the data channel the realtime service
// expects the client to declare before generating its offer.
const DataChannelLabel = "oai-events"

// ChannelEventKind enumerates data-channel lifecycle notifications.
type ChannelEventKind int

const (
	ChannelOpen ChannelEventKind = iota
	ChannelMessage
	ChannelError
	ChannelClose
)

// String returns the lower-case name of the kind.
func (k ChannelEventKind) String() string {
	switch k {
	case ChannelOpen:
		return "open"
	case ChannelMessage:
		return "message"
	case ChannelError:
		return "error"
	case ChannelClose:
		return "close"
	default:
		return "unknown"
	}
}

// ChannelEvent is one data-channel notification.
type ChannelEvent struct {
	Kind ChannelEventKind

	// Data holds the raw message for ChannelMessage.
	Data []byte

	// Err holds the failure for ChannelError.
	Err error
}

// DataChannel is the bidirectional structured-message transport paired with
// the media session.
type DataChannel interface {
	// Label returns the channel name.
	Label() string

	// Send writes one text message. It fails if the channel is not open.
	Send(data []byte) error

	// Events returns the ordered stream of lifecycle and message
	// notifications. The stream is closed after ChannelClose has been
	// delivered or the owning connection is closed.
	Events() <-chan ChannelEvent
}

// Connection is the media session owning the data channel and local tracks.
type Connection interface {
	// StopTracks stops every local media track and releases the capture
	// device. Idempotent.
	StopTracks()

	// Close tears down the session. Idempotent.
	Close() error
}

// Established is the result of a successful negotiation.
type Established struct {
	Conn Connection
	Data DataChannel

	// AudioDegraded reports that no microphone is attached and outgoing
	// audio is carried on a synthesized silent track (or not at all).
	AudioDegraded bool

	// Warnings lists the non-fatal failures behind AudioDegraded, typically
	// *MediaAccessError values.
	Warnings []error
}

// Negotiator establishes a realtime session using a short-lived credential.
type Negotiator interface {
	// Establish returns once the remote description has been applied. It
	// does not wait for the data channel to open; observe
	// [DataChannel.Events] for that.
	Establish(ctx context.Context, credential string) (*Established, error)
}

// NegotiatorFunc adapts a function to [Negotiator].
type NegotiatorFunc func(ctx context.Context, credential string) (*Established, error)

// Establish calls f.
func (f NegotiatorFunc) Establish(ctx context.Context, credential string) (*Established, error) {
	return f(ctx, credential)
}

// IsSecureEndpoint reports whether media capture may be requested for a
// session negotiated with rawURL: the endpoint must use TLS (https or wss)
// or be a loopback address.
func IsSecureEndpoint(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "https", "wss":
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
