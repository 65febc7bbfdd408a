// Package subnet implements EphemeralSubnetManager (spec §4.7): nodes
// that communicate frequently are clustered into ephemeral subnets by
// running BFS over a weighted communication graph; edges decay over
// time and clusters with no surviving edges dissolve. Grounded on
// original_source's discovery/subnet.rs.
package subnet

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/identity"
)

// DecayFactor is the multiplicative decay applied to every edge weight
// each time Decay runs.
const DecayFactor = 0.9

// MinEdgeWeight is the weight below which an edge is considered gone:
// Decay prunes any edge that falls below this threshold.
const MinEdgeWeight = 0.05

// ClusterThreshold is the minimum edge weight for two nodes to be
// considered part of the same cluster when Recompute runs its BFS.
const ClusterThreshold = 0.3

// SubnetId identifies one ephemeral cluster.
type SubnetId string

// Subnet is a cluster of nodes found to be communicating densely with
// each other.
type Subnet struct {
	ID      SubnetId
	Members []identity.NodeId
}

type edgeKey struct {
	a, b identity.NodeId
}

func newEdgeKey(a, b identity.NodeId) edgeKey {
	if lessNodeId(b, a) {
		a, b = b, a
	}
	return edgeKey{a: a, b: b}
}

func lessNodeId(a, b identity.NodeId) bool {
	return a.String() < b.String()
}

// Manager maintains the weighted communication graph and the current
// set of ephemeral subnets derived from it.
type Manager struct {
	edges   map[edgeKey]float64
	subnets map[SubnetId]*Subnet
}

// NewManager creates an empty subnet manager.
func NewManager() *Manager {
	return &Manager{
		edges:   make(map[edgeKey]float64),
		subnets: make(map[SubnetId]*Subnet),
	}
}

// RecordInteraction strengthens the edge between a and b by weight (a
// value in (0,1], typically small per-message increments), capped at
// 1.0.
func (m *Manager) RecordInteraction(a, b identity.NodeId, weight float64) {
	if a == b {
		return
	}
	k := newEdgeKey(a, b)
	w := m.edges[k] + weight
	if w > 1.0 {
		w = 1.0
	}
	m.edges[k] = w
}

// Decay multiplies every edge weight by DecayFactor and removes edges
// that fall below MinEdgeWeight, modeling communication patterns that
// fade when nodes stop talking.
func (m *Manager) Decay() {
	for k, w := range m.edges {
		w *= DecayFactor
		if w < MinEdgeWeight {
			delete(m.edges, k)
			continue
		}
		m.edges[k] = w
	}
}

// EdgeWeight returns the current weight between a and b, or 0 if there
// is no edge.
func (m *Manager) EdgeWeight(a, b identity.NodeId) float64 {
	return m.edges[newEdgeKey(a, b)]
}

// DissolutionReason explains why Recompute removed a previously-formed
// subnet.
type DissolutionReason string

const (
	DissolvedNoEdges    DissolutionReason = "no_surviving_edges"
	DissolvedSplit      DissolutionReason = "split_into_smaller_clusters"
)

// Dissolution is emitted by Recompute for every subnet that no longer
// exists in its previous form.
type Dissolution struct {
	ID     SubnetId
	Reason DissolutionReason
}

// Formation is emitted by Recompute for every newly identified subnet.
type Formation struct {
	Subnet Subnet
}

// Recompute re-derives clusters from the current edge graph via BFS
// over edges at or above ClusterThreshold, replacing the prior subnet
// set. It returns the dissolutions and formations relative to the
// previous call, so the runtime can emit SubnetDissolved/SubnetFormed
// events without the caller having to diff the membership itself.
func (m *Manager) Recompute() (dissolutions []Dissolution, formations []Formation) {
	adjacency := make(map[identity.NodeId][]identity.NodeId)
	nodes := make(map[identity.NodeId]struct{})
	for k, w := range m.edges {
		if w < ClusterThreshold {
			continue
		}
		adjacency[k.a] = append(adjacency[k.a], k.b)
		adjacency[k.b] = append(adjacency[k.b], k.a)
		nodes[k.a] = struct{}{}
		nodes[k.b] = struct{}{}
	}

	visited := make(map[identity.NodeId]bool)
	var newClusters [][]identity.NodeId
	for n := range nodes {
		if visited[n] {
			continue
		}
		cluster := bfs(n, adjacency, visited)
		if len(cluster) >= 2 {
			newClusters = append(newClusters, cluster)
		}
	}

	newSubnets := make(map[SubnetId]*Subnet, len(newClusters))
	for _, cluster := range newClusters {
		sort.Slice(cluster, func(i, j int) bool { return lessNodeId(cluster[i], cluster[j]) })
		var kept *Subnet
		for _, old := range m.subnets {
			if sameMembers(old.Members, cluster) {
				kept = old
				break
			}
		}
		if kept != nil {
			newSubnets[kept.ID] = kept
			continue
		}
		id := SubnetId(uuid.New().String())
		s := &Subnet{ID: id, Members: cluster}
		newSubnets[id] = s
		formations = append(formations, Formation{Subnet: *s})
	}

	for id, old := range m.subnets {
		if !survives(old, newClusters) {
			reason := DissolvedNoEdges
			for _, member := range old.Members {
				if _, ok := nodes[member]; ok {
					reason = DissolvedSplit
					break
				}
			}
			dissolutions = append(dissolutions, Dissolution{ID: id, Reason: reason})
		}
	}

	m.subnets = newSubnets
	return dissolutions, formations
}

// survives reports whether old's full membership is still exactly one
// of the freshly computed clusters.
func survives(old *Subnet, clusters [][]identity.NodeId) bool {
	for _, c := range clusters {
		if sameMembers(old.Members, c) {
			return true
		}
	}
	return false
}

func sameMembers(a, b []identity.NodeId) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[identity.NodeId]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func bfs(start identity.NodeId, adjacency map[identity.NodeId][]identity.NodeId, visited map[identity.NodeId]bool) []identity.NodeId {
	queue := []identity.NodeId{start}
	visited[start] = true
	var cluster []identity.NodeId
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		cluster = append(cluster, n)
		for _, neighbor := range adjacency[n] {
			if !visited[neighbor] {
				visited[neighbor] = true
				queue = append(queue, neighbor)
			}
		}
	}
	return cluster
}

// Subnets returns the current set of subnets.
func (m *Manager) Subnets() []Subnet {
	out := make([]Subnet, 0, len(m.subnets))
	for _, s := range m.subnets {
		out = append(out, *s)
	}
	return out
}
