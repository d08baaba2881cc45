package transcript

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Cell is a display value updated outside the message list. Reads and writes
// are lock-free.
type Cell struct {
	v atomic.Pointer[string]
}

// Set replaces the displayed text.
func (c *Cell) Set(s string) { c.v.Store(&s) }

// Get returns the displayed text.
func (c *Cell) Get() string {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return ""
}

// Clear empties the cell.
func (c *Cell) Clear() { c.v.Store(nil) }

// Option configures a [Renderer].
type Option func(*Renderer)

// WithDisplay installs a callback invoked with the full running text of a
// role after every partial. It runs on the caller's goroutine and must not
// block.
func WithDisplay(fn func(role Role, text string)) Option {
	return func(r *Renderer) { r.display = fn }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithIDs overrides message ID generation.
func WithIDs(next func() string) Option {
	return func(r *Renderer) { r.nextID = next }
}

// Renderer accumulates partial transcripts per role and finalizes them into
// messages on turn boundaries.
//
// Partial, TurnComplete, Interrupt and Reset must be called from a single
// goroutine (the event-delivery loop). Display may be called from anywhere.
type Renderer struct {
	sink    Sink
	acc     [2]strings.Builder
	cells   [2]Cell
	display func(Role, string)
	now     func() time.Time
	nextID  func() string
}

// NewRenderer creates a Renderer pushing finalized messages into sink.
func NewRenderer(sink Sink, opts ...Option) *Renderer {
	r := &Renderer{
		sink:   sink,
		now:    time.Now,
		nextID: newMessageID,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// newMessageID returns a time-ordered UUIDv7, falling back to v4 if the
// random source fails.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Partial appends text to the role's accumulator and publishes the full
// accumulated text to its display cell.
func (r *Renderer) Partial(role Role, text string) {
	if text == "" || !validRole(role) {
		return
	}
	acc := &r.acc[role]
	acc.WriteString(text)
	full := acc.String()
	r.cells[role].Set(full)
	if r.display != nil {
		r.display(role, full)
	}
}

// Apply routes a fragment. A final fragment replaces the accumulated text of
// its role and finalizes that role immediately.
func (r *Renderer) Apply(f Fragment) []Message {
	if !validRole(f.Role) {
		return nil
	}
	if !f.Final {
		r.Partial(f.Role, f.Text)
		return nil
	}
	r.acc[f.Role].Reset()
	r.acc[f.Role].WriteString(f.Text)
	if m, ok := r.finalize(f.Role); ok {
		return []Message{m}
	}
	return nil
}

// TurnComplete finalizes every non-empty accumulator, user first, and
// returns the emitted messages.
func (r *Renderer) TurnComplete() []Message {
	var out []Message
	for _, role := range [...]Role{RoleUser, RoleModel} {
		if m, ok := r.finalize(role); ok {
			out = append(out, m)
		}
	}
	return out
}

// Interrupt discards the in-progress translation without emitting a message.
func (r *Renderer) Interrupt() {
	r.clear(RoleModel)
}

// Reset discards both accumulators.
func (r *Renderer) Reset() {
	r.clear(RoleUser)
	r.clear(RoleModel)
}

// Display returns the currently displayed partial text of role.
func (r *Renderer) Display(role Role) string {
	if !validRole(role) {
		return ""
	}
	return r.cells[role].Get()
}

func (r *Renderer) finalize(role Role) (Message, bool) {
	acc := &r.acc[role]
	if acc.Len() == 0 {
		return Message{}, false
	}
	m := Message{
		ID:        r.nextID(),
		Role:      role,
		Text:      acc.String(),
		Timestamp: r.now(),
		Final:     true,
	}
	if r.sink != nil {
		r.sink.Append(m)
	}
	r.clear(role)
	return m, true
}

func (r *Renderer) clear(role Role) {
	r.acc[role].Reset()
	r.cells[role].Clear()
	if r.display != nil {
		r.display(role, "")
	}
}

func validRole(role Role) bool { return role == RoleUser || role == RoleModel }
