// Package convo tracks in-memory conversation state per patient phone
// number. The table is the only shared mutable resource in the message
// path; it is constructed once at startup and injected into the
// pipeline and the dashboard handlers.
package convo

import (
	"sync"
	"time"
)

// State is the tracked state of one ongoing conversation. Phone is the
// primary key; StartedAt is set once at creation and never changes;
// Messages increments exactly once per accepted inbound message.
type State struct {
	Phone       string    `json:"phone"`
	PatientName string    `json:"patient_name"`
	StartedAt   time.Time `json:"started_at"`
	Messages    int       `json:"messages_count"`
}

// Table is a concurrency-safe map of phone number to conversation
// state. Reads taken for reporting may trail a concurrent write by one
// update; that staleness is acceptable for the dashboard.
type Table struct {
	mu     sync.RWMutex
	states map[string]*State
	now    func() time.Time
}

// NewTable creates an empty conversation table.
func NewTable() *Table {
	return &Table{
		states: make(map[string]*State),
		now:    time.Now,
	}
}

// NewTableWithClock creates a table using the given clock. Tests use
// this to pin StartedAt.
func NewTableWithClock(now func() time.Time) *Table {
	t := NewTable()
	t.now = now
	return t
}

// Get returns a copy of the state for phone. The second return is
// false when no conversation exists.
func (t *Table) Get(phone string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[phone]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// UpsertOnMessage records one accepted inbound message for phone. If
// no conversation exists, one is created fully initialized (StartedAt,
// Messages=1, PatientName) and created is true; otherwise the message
// counter is incremented. The check-and-create is atomic under the
// table lock, so two concurrent first-contact messages observe exactly
// one created=true.
func (t *Table) UpsertOnMessage(phone, patientName string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[phone]; ok {
		s.Messages++
		return *s, false
	}

	s := &State{
		Phone:       phone,
		PatientName: patientName,
		StartedAt:   t.now(),
		Messages:    1,
	}
	t.states[phone] = s
	return *s, true
}

// Delete removes the conversation for phone, reporting whether one
// existed. The underlying fact-store history is untouched.
func (t *Table) Delete(phone string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[phone]; !ok {
		return false
	}
	delete(t.states, phone)
	return true
}

// SnapshotAll returns a copy of every conversation state for reporting.
func (t *Table) SnapshotAll() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	return out
}

// Len returns the number of active conversations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

// TotalMessages returns the sum of message counters across all
// conversations.
func (t *Table) TotalMessages() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, s := range t.states {
		total += s.Messages
	}
	return total
}
