// Package discovery implements peer liveness tracking (spec §4.5): a
// three-tier heartbeat tracker (Alive/Stale/Departed) plus the
// PeerAnnounce gossip payload used to introduce new peers to the
// network. Grounded on original_source's discovery/heartbeat.rs and
// discovery/types.rs.
package discovery

import (
	"time"

	"github.com/tom-x-project/tom/identity"
)

// Liveness is a peer's three-tier liveness classification.
type Liveness int

const (
	Alive Liveness = iota
	Stale
	Departed
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Stale:
		return "stale"
	case Departed:
		return "departed"
	default:
		return "unknown"
	}
}

const (
	// StaleThreshold is how long since the last heartbeat before a peer
	// is considered Stale rather than Alive.
	StaleThreshold = 10 * time.Second
	// OfflineThreshold is how long since the last heartbeat before a
	// peer is considered Departed rather than Stale.
	OfflineThreshold = 20 * time.Second
	// DepartedCleanupThreshold is how long a Departed peer's last
	// heartbeat is kept around before CleanupDeparted forgets it
	// entirely — three times OfflineThreshold.
	DepartedCleanupThreshold = 3 * OfflineThreshold
)

// LivenessChange is emitted by CheckAll for every peer whose liveness
// tier differs from its previously reported tier.
type LivenessChange struct {
	NodeId identity.NodeId
	From   Liveness
	To     Liveness
}

// HeartbeatTracker records the last heartbeat time seen from each peer
// and classifies peers into Alive/Stale/Departed tiers.
type HeartbeatTracker struct {
	lastHeartbeat    map[identity.NodeId]time.Time
	lastReported     map[identity.NodeId]Liveness
	staleThreshold   time.Duration
	offlineThreshold time.Duration
}

// New creates a HeartbeatTracker with the default thresholds.
func New() *HeartbeatTracker {
	return WithThresholds(StaleThreshold, OfflineThreshold)
}

// WithThresholds creates a HeartbeatTracker with custom thresholds,
// primarily for tests that want to compress the timeline.
func WithThresholds(stale, offline time.Duration) *HeartbeatTracker {
	return &HeartbeatTracker{
		lastHeartbeat:    make(map[identity.NodeId]time.Time),
		lastReported:     make(map[identity.NodeId]Liveness),
		staleThreshold:   stale,
		offlineThreshold: offline,
	}
}

// RecordHeartbeat records a heartbeat from id at the current time.
func (h *HeartbeatTracker) RecordHeartbeat(id identity.NodeId) {
	h.RecordHeartbeatAt(id, time.Now())
}

// RecordHeartbeatAt records a heartbeat from id at an explicit time,
// for deterministic testing.
func (h *HeartbeatTracker) RecordHeartbeatAt(id identity.NodeId, at time.Time) {
	h.lastHeartbeat[id] = at
}

// TrackPeer begins tracking id with no heartbeat yet recorded, so it is
// immediately eligible to be classified (and will read as Departed
// until a heartbeat arrives, since it has no recent timestamp).
func (h *HeartbeatTracker) TrackPeer(id identity.NodeId) {
	if _, ok := h.lastHeartbeat[id]; !ok {
		h.lastHeartbeat[id] = time.Time{}
	}
}

// UntrackPeer forgets id entirely.
func (h *HeartbeatTracker) UntrackPeer(id identity.NodeId) {
	delete(h.lastHeartbeat, id)
	delete(h.lastReported, id)
}

// Liveness classifies id's current liveness as of now.
func (h *HeartbeatTracker) Liveness(id identity.NodeId) Liveness {
	return h.LivenessAt(id, time.Now())
}

// LivenessAt classifies id's liveness as of an explicit time.
func (h *HeartbeatTracker) LivenessAt(id identity.NodeId, at time.Time) Liveness {
	last, ok := h.lastHeartbeat[id]
	if !ok || last.IsZero() {
		return Departed
	}
	age := at.Sub(last)
	switch {
	case age < h.staleThreshold:
		return Alive
	case age < h.offlineThreshold:
		return Stale
	default:
		return Departed
	}
}

// CheckAll classifies every tracked peer and returns a LivenessChange
// for each whose tier differs from the last call to CheckAll.
func (h *HeartbeatTracker) CheckAll() []LivenessChange {
	now := time.Now()
	var changes []LivenessChange
	for id := range h.lastHeartbeat {
		current := h.LivenessAt(id, now)
		prev, seen := h.lastReported[id]
		if !seen || prev != current {
			changes = append(changes, LivenessChange{NodeId: id, From: prev, To: current})
			h.lastReported[id] = current
		}
	}
	return changes
}

// CleanupDeparted forgets any peer whose last heartbeat is older than
// DepartedCleanupThreshold, and any tracked peer that has never sent a
// heartbeat, so long-gone peers don't accumulate forever in the
// tracker.
func (h *HeartbeatTracker) CleanupDeparted() {
	now := time.Now()
	for id, last := range h.lastHeartbeat {
		if last.IsZero() || now.Sub(last) > DepartedCleanupThreshold {
			delete(h.lastHeartbeat, id)
			delete(h.lastReported, id)
		}
	}
}

// TrackedCount reports how many peers currently have a heartbeat
// record.
func (h *HeartbeatTracker) TrackedCount() int {
	return len(h.lastHeartbeat)
}
