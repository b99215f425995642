// Package websocket establishes text-only realtime sessions over a WebSocket.
//
// It is the fallback transport for hosts where WebRTC is not possible. JSON
// control events travel as text frames; there is no audio in either
// direction, so every session reports AudioDegraded.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

// DefaultBaseURL is the OpenAI realtime WebSocket endpoint.
const DefaultBaseURL = "wss://api.openai.com/v1/realtime"

const writeTimeout = 10 * time.Second

var (
	_ realtime.Negotiator  = (*Negotiator)(nil)
	_ realtime.DataChannel = (*channel)(nil)
	_ realtime.Connection  = (*channel)(nil)
)

// Option configures a [Negotiator].
type Option func(*Negotiator)

// WithBaseURL overrides the WebSocket endpoint.
func WithBaseURL(u string) Option { return func(n *Negotiator) { n.baseURL = u } }

// WithModel sets the model query parameter.
func WithModel(model string) Option { return func(n *Negotiator) { n.model = model } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Negotiator) { n.log = l } }

// Negotiator dials one WebSocket per session.
type Negotiator struct {
	baseURL string
	model   string
	log     *slog.Logger
}

// New returns a Negotiator targeting [DefaultBaseURL].
func New(opts ...Option) *Negotiator {
	n := &Negotiator{baseURL: DefaultBaseURL, log: slog.Default()}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Endpoint returns the dial URL including the model parameter.
func (n *Negotiator) Endpoint() string {
	if n.model == "" {
		return n.baseURL
	}
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return n.baseURL
	}
	q := u.Query()
	q.Set("model", n.model)
	u.RawQuery = q.Encode()
	return u.String()
}

// Establish implements [realtime.Negotiator]. The returned channel is open
// immediately; its ChannelOpen event is already queued.
func (n *Negotiator) Establish(ctx context.Context, credential string) (*realtime.Established, error) {
	conn, resp, err := ws.Dial(ctx, n.Endpoint(), &ws.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + credential},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		se := &realtime.SignalingError{Err: fmt.Errorf("dial: %w", err)}
		if resp != nil {
			se.StatusCode = resp.StatusCode
		}
		return nil, se
	}
	conn.SetReadLimit(1 << 22)

	ctxRead, cancel := context.WithCancel(context.Background())
	c := &channel{
		conn:   conn,
		queue:  realtime.NewEventQueue(),
		ctx:    ctxRead,
		cancel: cancel,
		log:    n.log,
	}
	c.open.Store(true)
	c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelOpen})
	go c.readLoop()

	return &realtime.Established{
		Conn:          c,
		Data:          c,
		AudioDegraded: true,
		Warnings: []error{&realtime.MediaAccessError{
			Reason: realtime.ReasonUnavailable,
			Err:    errors.New("websocket transport carries no audio"),
		}},
	}, nil
}

// channel is both the data channel and the connection: a WebSocket has no
// separate media plane.
type channel struct {
	conn   *ws.Conn
	queue  *realtime.EventQueue
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger

	open      atomic.Bool
	closeOnce sync.Once
}

func (c *channel) Label() string { return realtime.DataChannelLabel }

func (c *channel) Events() <-chan realtime.ChannelEvent { return c.queue.Events() }

func (c *channel) Send(data []byte) error {
	if !c.open.Load() {
		return realtime.ErrChannelNotOpen
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, ws.MessageText, data); err != nil {
		return fmt.Errorf("websocket: write: %w", err)
	}
	return nil
}

func (c *channel) readLoop() {
	defer c.queue.CloseAfterPending()
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.open.Store(false)
			status := ws.CloseStatus(err)
			if c.ctx.Err() == nil && status != ws.StatusNormalClosure && status != ws.StatusGoingAway {
				c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelError, Err: err})
			}
			c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelClose})
			return
		}
		c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelMessage, Data: data})
	}
}

// StopTracks is a no-op; there is no local media.
func (c *channel) StopTracks() {}

// Close closes the socket. Idempotent.
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		err = c.conn.Close(ws.StatusNormalClosure, "session closed")
		c.cancel()
		c.queue.Stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug("websocket: close", "err", err)
		}
	})
	return nil
}
