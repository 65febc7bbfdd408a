// Package roles implements contribution-based role promotion/demotion
// (spec §4.6): nodes that relay more traffic, store more backups, and
// stay online longer accrue a higher contribution score and are
// promoted from Member to Relay; nodes whose score falls are demoted
// back. Grounded on original_source's roles/{manager,scoring}.rs.
//
// original_source's score() declares bandwidth-weight constants but
// never folds BytesRelayed into the returned value — an apparent
// omission there. spec.md's documented formula does include the
// bandwidth term, so Score implements the full formula rather than
// reproducing the original's omission. See DESIGN.md.
package roles

import (
	"math"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
)

// Score weights. They are compile-time constants; no config setting
// changes them.
const (
	WeightMessagesRelayed = 1.0
	WeightBytesRelayed    = 0.5 // applied to log2(1 + megabytes relayed)
	WeightUptimeHours     = 0.3
	WeightBackupsStored   = 2.0
)

// PromoteThreshold is the score at or above which a Member is promoted
// to Relay.
const PromoteThreshold = 10.0

// DemoteThreshold is the score below which a Relay is demoted back to
// Member. It is strictly lower than PromoteThreshold to give roles
// hysteresis and avoid a node flapping between roles at the boundary.
const DemoteThreshold = 4.0

// ContributionMetrics accumulates a node's observed contribution to the
// network since it was first seen.
type ContributionMetrics struct {
	MessagesRelayed uint64
	BytesRelayed    uint64
	UptimeSeconds   uint64
	BackupsStored   uint64
}

// Score computes a node's contribution score from its accumulated
// metrics. Logarithms flatten the contribution of very high-volume
// relays so a single node can't dominate the role ranking purely by
// traffic volume.
func Score(m ContributionMetrics) float64 {
	megabytes := float64(m.BytesRelayed) / (1024 * 1024)
	hours := float64(m.UptimeSeconds) / 3600

	return WeightMessagesRelayed*math.Log2(1+float64(m.MessagesRelayed)) +
		WeightBytesRelayed*math.Log2(1+megabytes) +
		WeightUptimeHours*hours +
		WeightBackupsStored*float64(m.BackupsStored)
}

// RoleChange is emitted by Evaluate whenever a node's role changes.
type RoleChange struct {
	NodeId   identity.NodeId
	Promoted bool // false means demoted
	Score    float64
}

// Manager tracks contribution metrics per node and evaluates role
// transitions against relay.Topology's current role assignment.
type Manager struct {
	metrics map[identity.NodeId]ContributionMetrics
}

// NewManager creates an empty role manager.
func NewManager() *Manager {
	return &Manager{metrics: make(map[identity.NodeId]ContributionMetrics)}
}

// RecordRelayed accumulates a relayed message's contribution toward id.
func (m *Manager) RecordRelayed(id identity.NodeId, bytes uint64) {
	c := m.metrics[id]
	c.MessagesRelayed++
	c.BytesRelayed += bytes
	m.metrics[id] = c
}

// RecordBackupStored accumulates a stored backup's contribution toward
// id.
func (m *Manager) RecordBackupStored(id identity.NodeId) {
	c := m.metrics[id]
	c.BackupsStored++
	m.metrics[id] = c
}

// RecordUptime accumulates observed uptime toward id.
func (m *Manager) RecordUptime(id identity.NodeId, seconds uint64) {
	c := m.metrics[id]
	c.UptimeSeconds += seconds
	m.metrics[id] = c
}

// MetricsOf returns the accumulated metrics for id.
func (m *Manager) MetricsOf(id identity.NodeId) ContributionMetrics {
	return m.metrics[id]
}

// Evaluate scores every node with recorded metrics and returns a
// RoleChange for each that crosses PromoteThreshold (while currently a
// Member in topo) or falls below DemoteThreshold (while currently a
// Relay in topo). Topology itself is not mutated; the runtime applies
// returned changes via Topology.UpsertPeer.
func (m *Manager) Evaluate(topo *relay.Topology) []RoleChange {
	var changes []RoleChange
	for id, metrics := range m.metrics {
		peer, ok := topo.Get(id)
		if !ok {
			continue
		}
		score := Score(metrics)
		switch {
		case peer.Role == relay.RoleMember && score >= PromoteThreshold:
			changes = append(changes, RoleChange{NodeId: id, Promoted: true, Score: score})
		case peer.Role == relay.RoleRelay && score < DemoteThreshold:
			changes = append(changes, RoleChange{NodeId: id, Promoted: false, Score: score})
		}
	}
	return changes
}
