package realtime

import "sync"

// EventQueue is an unbounded FIFO that turns transport callbacks into an
// ordered [ChannelEvent] stream. Push never blocks, so callbacks running on
// transport goroutines cannot stall on a slow consumer.
//
// The zero value is not usable; create queues with [NewEventQueue].
type EventQueue struct {
	mu      sync.Mutex
	pending []ChannelEvent
	closing bool

	wake     chan struct{}
	out      chan ChannelEvent
	done     chan struct{}
	stopOnce sync.Once
}

// NewEventQueue starts a queue and its delivery goroutine.
func NewEventQueue() *EventQueue {
	q := &EventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan ChannelEvent),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues ev. Events pushed after [EventQueue.CloseAfterPending] or
// [EventQueue.Stop] are dropped.
func (q *EventQueue) Push(ev ChannelEvent) {
	q.mu.Lock()
	if q.closing {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
	q.signal()
}

// CloseAfterPending closes the output stream once every queued event has
// been delivered.
func (q *EventQueue) CloseAfterPending() {
	q.mu.Lock()
	q.closing = true
	q.mu.Unlock()
	q.signal()
}

// Stop abandons undelivered events and closes the output stream.
func (q *EventQueue) Stop() {
	q.mu.Lock()
	q.closing = true
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.done) })
}

// Events returns the ordered output stream.
func (q *EventQueue) Events() <-chan ChannelEvent { return q.out }

func (q *EventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *EventQueue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closing := q.closing
			q.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.pending[0]
		q.pending[0] = ChannelEvent{}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}
