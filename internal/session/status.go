package session

import "sync"

// Status is the connection state of an [Orchestrator].
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns the upper-case state name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// statusFeed fans status changes out to subscribers. Each subscriber holds at
// most one pending value; a slow reader only ever sees the latest status.
type statusFeed struct {
	mu   sync.Mutex
	subs map[int]chan Status
	next int
}

func (f *statusFeed) subscribe(current Status) (<-chan Status, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]chan Status)
	}
	id := f.next
	f.next++
	ch := make(chan Status, 1)
	ch <- current
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

func (f *statusFeed) publish(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
