// Package transcript holds the ordered log of a voice conversation.
//
// A [Store] records two kinds of entries: MESSAGE entries carry the text of a
// user or assistant turn and accumulate content as the realtime service
// streams it in; EVENT entries are side-channel diagnostics (connection
// state, tool calls, warnings) rendered next to the conversation.
//
// Entries are append-only in arrival order. Only an entry's content, status
// and expansion flag change after it has been added, always addressed by item
// ID. At most one MESSAGE entry exists per item ID; adding a second one is a
// no-op rather than an overwrite.
//
// All methods are safe for concurrent use. The session orchestrator is the
// only writer in practice; UI layers read snapshots and subscribe to changes.
package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes conversation messages from side-channel events.
type Kind string

const (
	KindMessage Kind = "MESSAGE"
	KindEvent   Kind = "EVENT"
)

// Role is the speaker of a MESSAGE entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Entry is one unit of conversation or diagnostic history.
type Entry struct {
	// ItemID identifies the entry. Message IDs come from the realtime service
	// (or are generated for simulated turns); event IDs are "event-<uuid>".
	ItemID string `json:"itemId"`

	Kind Kind `json:"type"`

	// Role is set for MESSAGE entries only.
	Role Role `json:"role,omitempty"`

	// Content is the accumulated message text, or the event label.
	Content string `json:"content"`

	// Data is the optional structured payload of an EVENT entry.
	Data map[string]any `json:"data,omitempty"`

	// Expanded is a UI-only flag toggled by the rendering layer.
	Expanded bool `json:"expanded"`

	Status Status `json:"status"`

	Timestamp time.Time `json:"createdAt"`
}

// Store is the in-memory transcript. The zero value is not usable; create
// instances with [New].
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int // ItemID → position of the MESSAGE entry
	subs    map[int]chan struct{}
	nextSub int

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		index:  make(map[string]int),
		subs:   make(map[int]chan struct{}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddMessage appends a MESSAGE entry with status IN_PROGRESS. If a message
// with the same itemID already exists the call is ignored and false is
// returned.
func (s *Store) AddMessage(itemID string, role Role, content string) bool {
	s.mu.Lock()
	if _, ok := s.index[itemID]; ok {
		s.mu.Unlock()
		s.logger.Debug("transcript: message already exists, skipping",
			"item_id", itemID, "role", role)
		return false
	}
	s.index[itemID] = len(s.entries)
	s.entries = append(s.entries, Entry{
		ItemID:    itemID,
		Kind:      KindMessage,
		Role:      role,
		Content:   content,
		Status:    StatusInProgress,
		Timestamp: s.now(),
	})
	s.mu.Unlock()
	s.notify()
	return true
}

// UpdateMessage changes the content of the MESSAGE entry itemID. When
// isDelta is true, content is appended to the existing text; otherwise it
// replaces it. Unknown item IDs are ignored and false is returned.
func (s *Store) UpdateMessage(itemID, content string, isDelta bool) bool {
	s.mu.Lock()
	i, ok := s.index[itemID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if isDelta {
		s.entries[i].Content += content
	} else {
		s.entries[i].Content = content
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// AddEvent appends a DONE EVENT entry with the given label and optional
// payload and returns its generated item ID.
func (s *Store) AddEvent(title string, data map[string]any) string {
	id := "event-" + uuid.NewString()
	s.mu.Lock()
	s.entries = append(s.entries, Entry{
		ItemID:    id,
		Kind:      KindEvent,
		Content:   title,
		Data:      data,
		Status:    StatusDone,
		Timestamp: s.now(),
	})
	s.mu.Unlock()
	s.notify()
	return id
}

// UpdateStatus sets the lifecycle status of every entry with itemID.
func (s *Store) UpdateStatus(itemID string, status Status) bool {
	return s.mutate(itemID, func(e *Entry) { e.Status = status })
}

// ToggleExpand flips the UI expansion flag of every entry with itemID.
func (s *Store) ToggleExpand(itemID string) bool {
	return s.mutate(itemID, func(e *Entry) { e.Expanded = !e.Expanded })
}

func (s *Store) mutate(itemID string, fn func(*Entry)) bool {
	found := false
	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].ItemID == itemID {
			fn(&s.entries[i])
			found = true
		}
	}
	s.mu.Unlock()
	if found {
		s.notify()
	}
	return found
}

// Entries returns a copy of all entries in arrival order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Messages returns a copy of the MESSAGE entries in arrival order.
func (s *Store) Messages() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.index))
	for _, e := range s.entries {
		if e.Kind == KindMessage {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the MESSAGE entry for itemID.
func (s *Store) Get(itemID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[itemID]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe returns a channel that receives a signal after every change.
// Signals are coalesced: a slow reader sees at most one pending signal and
// should re-read [Store.Entries]. Call the returned function to unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
