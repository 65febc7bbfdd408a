package group

import (
	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
)

// ElectionReason explains how a new hub was chosen (or why none could
// be).
type ElectionReason int

const (
	ElectionBackup ElectionReason = iota
	ElectionDeterministic
	ElectionNoCandidates
)

// ElectionResult is the outcome of ElectHub.
type ElectionResult struct {
	NewHubId       *identity.NodeId
	Reason         ElectionReason
	CandidateCount int
}

// ElectHub chooses a replacement hub for group after failedHub is found
// unreachable. It first tries group's designated BackupHubId (if set,
// online, and not the failed hub itself); otherwise it falls back to
// the lexicographically-lowest online relay (by hex string), excluding
// failedHub, which is deterministic so every member reaches the same
// conclusion independently without needing a consensus round.
// Grounded on original_source's group/election.rs elect_hub.
func ElectHub(g *Info, failedHub identity.NodeId, topo *relay.Topology) ElectionResult {
	if g.BackupHubId != nil && *g.BackupHubId != failedHub {
		if peer, ok := topo.Get(*g.BackupHubId); ok && peer.Status == relay.StatusOnline {
			id := *g.BackupHubId
			return ElectionResult{NewHubId: &id, Reason: ElectionBackup, CandidateCount: 1}
		}
	}

	var candidates []identity.NodeId
	for _, peer := range topo.OnlineRelays() {
		if peer.NodeId == failedHub {
			continue
		}
		candidates = append(candidates, peer.NodeId)
	}

	if len(candidates) == 0 {
		return ElectionResult{Reason: ElectionNoCandidates, CandidateCount: 0}
	}

	lowest := candidates[0]
	for _, c := range candidates[1:] {
		if c.String() < lowest.String() {
			lowest = c
		}
	}
	return ElectionResult{NewHubId: &lowest, Reason: ElectionDeterministic, CandidateCount: len(candidates)}
}
