// Package relay implements Topology and single-hop relay selection
// (spec §4.4, §3).
//
// Multi-hop path construction is explicitly an Open Question in spec.md
// and has no concrete algorithm in original_source's relay.rs either
// (it only ever returns one intermediate hop); SelectRelay therefore
// returns at most one hop rather than inventing a multi-hop path
// construction algorithm. See DESIGN.md.
package relay

import (
	"sort"

	"github.com/tom-x-project/tom/identity"
)

// Role is a peer's current role in the network (spec §4.6).
type Role int

const (
	RoleMember Role = iota
	RoleRelay
)

// PeerStatus is a peer's coarse reachability as known to the local
// topology view.
type PeerStatus int

const (
	StatusOffline PeerStatus = iota
	StatusOnline
)

// PeerInfo is everything the local node knows about another peer for
// routing purposes.
type PeerInfo struct {
	NodeId     identity.NodeId
	Role       Role
	Status     PeerStatus
	LastSeenMs int64
}

// Topology is the local node's view of the network: who it knows about,
// their role, and their last-seen reachability.
type Topology struct {
	peers map[identity.NodeId]PeerInfo
}

// NewTopology creates an empty topology.
func NewTopology() *Topology {
	return &Topology{peers: make(map[identity.NodeId]PeerInfo)}
}

// UpsertPeer inserts or replaces a peer's known info.
func (t *Topology) UpsertPeer(info PeerInfo) {
	t.peers[info.NodeId] = info
}

// RemovePeer forgets a peer entirely.
func (t *Topology) RemovePeer(id identity.NodeId) {
	delete(t.peers, id)
}

// Get returns the known info for id, if any.
func (t *Topology) Get(id identity.NodeId) (PeerInfo, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// Peers returns every known peer in unspecified order.
func (t *Topology) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// OnlineRelays returns every peer with Role == RoleRelay and
// Status == StatusOnline, sorted by LastSeenMs descending (most
// recently seen first), matching original_source's relay candidate
// ordering.
func (t *Topology) OnlineRelays() []PeerInfo {
	out := make([]PeerInfo, 0)
	for _, p := range t.peers {
		if p.Role == RoleRelay && p.Status == StatusOnline {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenMs > out[j].LastSeenMs
	})
	return out
}

// SelectRelay picks a single online relay to forward toward dest,
// excluding any NodeId in exclude (typically the envelope's Via chain
// plus the local node itself, so a message is never routed through a
// relay it has already visited). It satisfies router.NextHopResolver.
func (t *Topology) SelectRelay(dest identity.NodeId, exclude []identity.NodeId) (identity.NodeId, bool) {
	excluded := make(map[identity.NodeId]struct{}, len(exclude)+1)
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	for _, candidate := range t.OnlineRelays() {
		if candidate.NodeId == dest {
			continue
		}
		if _, skip := excluded[candidate.NodeId]; skip {
			continue
		}
		return candidate.NodeId, true
	}
	return identity.NodeId{}, false
}
