package webrtc

import (
	pion "github.com/pion/webrtc/v4"

	"github.com/MrWong99/finvoice/pkg/realtime"
)

var _ realtime.DataChannel = (*dataChannel)(nil)

// dataChannel adapts pion's callback API to the ordered event stream of
// [realtime.DataChannel]. pion delivers callbacks on its own goroutines, so
// every callback only pushes onto the queue.
type dataChannel struct {
	dc    *pion.DataChannel
	queue *realtime.EventQueue
}

func newDataChannel(dc *pion.DataChannel) *dataChannel {
	c := &dataChannel{dc: dc, queue: realtime.NewEventQueue()}
	dc.OnOpen(func() {
		c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelOpen})
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelMessage, Data: msg.Data})
	})
	dc.OnError(func(err error) {
		c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelError, Err: err})
	})
	dc.OnClose(func() {
		c.queue.Push(realtime.ChannelEvent{Kind: realtime.ChannelClose})
		c.queue.CloseAfterPending()
	})
	return c
}

func (c *dataChannel) Label() string { return c.dc.Label() }

// Send transmits data as a text message.
func (c *dataChannel) Send(data []byte) error {
	if c.dc.ReadyState() != pion.DataChannelStateOpen {
		return realtime.ErrChannelNotOpen
	}
	return c.dc.SendText(string(data))
}

func (c *dataChannel) Events() <-chan realtime.ChannelEvent { return c.queue.Events() }

// stop abandons undelivered events.
func (c *dataChannel) stop() { c.queue.Stop() }
