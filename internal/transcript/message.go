// Package transcript renders the live translation transcript.
//
// Providers emit partial text at 10 to 30 updates per second while someone is
// speaking. The [Renderer] appends each fragment to a per-role accumulator and
// publishes the full running text to a lock-free display [Cell], which any UI
// can poll without touching the message list. Only turn boundaries produce
// immutable [Message] values, which are pushed to a [Sink] that owns the
// durable conversation state.
package transcript

import (
	"sync"
	"time"
)

// Role identifies who produced a piece of transcript.
type Role int

const (
	// RoleUser is the local speaker (input transcription).
	RoleUser Role = iota
	// RoleModel is the translation (output transcription).
	RoleModel
)

// String returns "user" or "model".
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModel:
		return "model"
	default:
		return "unknown"
	}
}

// Fragment is one inbound piece of transcript text.
type Fragment struct {
	Role  Role
	Text  string
	Final bool
}

// Message is a finalized turn. Messages are immutable once emitted.
type Message struct {
	// ID is unique and increases monotonically in emission order.
	ID        string    `json:"id"`
	Role      Role      `json:"-"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

// Sink receives finalized messages. Implementations own persistence.
type Sink interface {
	Append(msg Message)
}

// History is an in-memory [Sink] that keeps the most recent messages.
// It is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	limit int
	msgs  []Message
	subs  []chan Message
}

// NewHistory returns a History keeping at most limit messages. A limit of
// zero or less keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append implements [Sink].
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	if h.limit > 0 && len(h.msgs) > h.limit {
		h.msgs = append(h.msgs[:0], h.msgs[len(h.msgs)-h.limit:]...)
	}
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Subscribe returns a channel receiving every message appended from now on.
// Slow subscribers miss messages rather than block Append.
func (h *History) Subscribe(buffer int) <-chan Message {
	ch := make(chan Message, buffer)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}
