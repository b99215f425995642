// Package mock provides test doubles for the realtime package interfaces.
//
// Use Negotiator to script the outcome of a connection attempt, and
// DataChannel to feed inbound server events and inspect every client event
// the orchestrator sent.
//
// Example:
//
//	dc := mock.NewDataChannel()
//	neg := &mock.Negotiator{Result: &realtime.Established{Conn: &mock.Connection{}, Data: dc}}
//	// ... connect the orchestrator ...
//	dc.Open()
//	dc.Receive(`{"type":"session.created","session":{"id":"s1"}}`)
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

var (
	_ realtime.DataChannel = (*DataChannel)(nil)
	_ realtime.Connection  = (*Connection)(nil)
	_ realtime.Negotiator  = (*Negotiator)(nil)
)

// DataChannel is an in-memory [realtime.DataChannel].
type DataChannel struct {
	queue *realtime.EventQueue

	mu      sync.Mutex
	open    bool
	sent    [][]byte
	sendErr error
	notify  chan struct{}
}

// NewDataChannel returns a closed-until-opened channel.
func NewDataChannel() *DataChannel {
	return &DataChannel{
		queue:  realtime.NewEventQueue(),
		notify: make(chan struct{}, 1),
	}
}

// Label implements [realtime.DataChannel].
func (d *DataChannel) Label() string { return realtime.DataChannelLabel }

// Send records data. It fails with [realtime.ErrChannelNotOpen] until
// [DataChannel.Open] has been called, or with the error set by SetSendErr.
func (d *DataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	if !d.open {
		return realtime.ErrChannelNotOpen
	}
	d.sent = append(d.sent, append([]byte(nil), data...))
	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events implements [realtime.DataChannel].
func (d *DataChannel) Events() <-chan realtime.ChannelEvent { return d.queue.Events() }

// SetSendErr makes every subsequent Send fail with err.
func (d *DataChannel) SetSendErr(err error) {
	d.mu.Lock()
	d.sendErr = err
	d.mu.Unlock()
}

// Open marks the channel open and delivers a ChannelOpen event.
func (d *DataChannel) Open() {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	d.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelOpen})
}

// Receive delivers a raw inbound message.
func (d *DataChannel) Receive(raw string) {
	d.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelMessage, Data: []byte(raw)})
}

// Fail delivers a ChannelError event.
func (d *DataChannel) Fail(err error) {
	d.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelError, Err: err})
}

// Close marks the channel closed and delivers a ChannelClose event.
func (d *DataChannel) Close() {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	d.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelClose})
	d.queue.CloseAfterPending()
}

// Sent returns a copy of every message sent so far.
func (d *DataChannel) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.sent))
	copy(out, d.sent)
	return out
}

// SentTypes returns the "type" field of every message sent so far.
func (d *DataChannel) SentTypes() []string {
	sent := d.Sent()
	types := make([]string, 0, len(sent))
	for _, raw := range sent {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &head)
		types = append(types, head.Type)
	}
	return types
}

// Notify returns a channel signalled after each successful Send.
func (d *DataChannel) Notify() <-chan struct{} { return d.notify }

// Connection is a [realtime.Connection] that counts lifecycle calls.
type Connection struct {
	mu         sync.Mutex
	StopCalls  int
	CloseCalls int
	CloseErr   error

	// OnClose, if set, runs on every Close call.
	OnClose func()
}

// StopTracks implements [realtime.Connection].
func (c *Connection) StopTracks() {
	c.mu.Lock()
	c.StopCalls++
	c.mu.Unlock()
}

// Close implements [realtime.Connection].
func (c *Connection) Close() error {
	c.mu.Lock()
	c.CloseCalls++
	fn := c.OnClose
	err := c.CloseErr
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

// Counts returns the number of StopTracks and Close calls.
func (c *Connection) Counts() (stops, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.StopCalls, c.CloseCalls
}

// Negotiator is a scripted [realtime.Negotiator].
type Negotiator struct {
	mu sync.Mutex

	// Result is returned on success.
	Result *realtime.Established

	// Errs is consumed one per call; a nil entry (or an exhausted list)
	// means success with Result.
	Errs []error

	// Credentials records the credential of every call in order.
	Credentials []string
}

// Establish implements [realtime.Negotiator].
func (n *Negotiator) Establish(ctx context.Context, credential string) (*realtime.Established, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Credentials = append(n.Credentials, credential)
	if len(n.Errs) > 0 {
		err := n.Errs[0]
		n.Errs = n.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return n.Result, nil
}

// Calls returns the number of Establish calls.
func (n *Negotiator) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Credentials)
}
