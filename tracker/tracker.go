// Package tracker implements MessageTracker (spec §4.3): a bounded,
// monotonic record of each outgoing message's delivery status.
package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Status is a message's delivery status. Status only ever advances
// forward through this order; UpdateStatus silently ignores any
// transition that would move a message backward.
type Status int

const (
	Pending Status = iota
	Sent
	Relayed
	Delivered
	Read
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Relayed:
		return "relayed"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	default:
		return "unknown"
	}
}

// MaxTracked bounds the number of in-flight messages remembered at
// once.
const MaxTracked = 10000

// EvictAfter is how long a message is tracked after its last status
// change before it is evicted regardless of its final status.
const EvictAfter = 24 * time.Hour

// StatusChange is emitted on every Track call, including the no-op
// Pending-to-Pending change Track itself produces, and on every
// UpdateStatus call that advances a status, so callers have a uniform stream of tracker activity to log or relay
// to the application layer.
type StatusChange struct {
	MessageID uuid.UUID
	From      Status
	To        Status
	At        time.Time
}

type entry struct {
	status    Status
	updatedAt time.Time
}

// Tracker is a single node's view of its own outgoing messages'
// delivery progress.
type Tracker struct {
	entries map[uuid.UUID]entry
	order   []uuid.UUID // insertion order, for capacity eviction
	now     func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		entries: make(map[uuid.UUID]entry),
		now:     time.Now,
	}
}

// Track begins tracking messageID at Pending status, evicting the
// oldest tracked message if at capacity. It always returns a
// Pending-to-Pending StatusChange, even though nothing observable
// changed, so every tracked message has a uniform "created" event in
// the change stream.
func (t *Tracker) Track(messageID uuid.UUID) StatusChange {
	now := t.now()
	if _, exists := t.entries[messageID]; !exists {
		if len(t.entries) >= MaxTracked {
			t.evictOldest()
		}
		t.order = append(t.order, messageID)
	}
	t.entries[messageID] = entry{status: Pending, updatedAt: now}
	return StatusChange{MessageID: messageID, From: Pending, To: Pending, At: now}
}

// UpdateStatus advances messageID to newStatus if newStatus is strictly
// later in the lifecycle than its current status. It reports ok=false
// (and emits no change) if the message isn't tracked, or if newStatus
// would move it backward or sideways.
func (t *Tracker) UpdateStatus(messageID uuid.UUID, newStatus Status) (change StatusChange, ok bool) {
	e, exists := t.entries[messageID]
	if !exists {
		return StatusChange{}, false
	}
	if newStatus <= e.status {
		return StatusChange{}, false
	}
	now := t.now()
	change = StatusChange{MessageID: messageID, From: e.status, To: newStatus, At: now}
	t.entries[messageID] = entry{status: newStatus, updatedAt: now}
	return change, true
}

// StatusOf reports the current status of messageID, if tracked.
func (t *Tracker) StatusOf(messageID uuid.UUID) (Status, bool) {
	e, ok := t.entries[messageID]
	return e.status, ok
}

// Cleanup evicts every message whose last status change is older than
// EvictAfter.
func (t *Tracker) Cleanup() {
	now := t.now()
	kept := t.order[:0]
	for _, id := range t.order {
		e, exists := t.entries[id]
		if !exists {
			continue
		}
		if now.Sub(e.updatedAt) > EvictAfter {
			delete(t.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// Len reports the number of currently tracked messages.
func (t *Tracker) Len() int {
	return len(t.entries)
}

func (t *Tracker) evictOldest() {
	if len(t.order) == 0 {
		return
	}
	oldest := t.order[0]
	t.order = t.order[1:]
	delete(t.entries, oldest)
}
