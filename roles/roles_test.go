package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
)

func mustID(t *testing.T) identity.NodeId {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp.NodeId()
}

func TestScoreIncludesBandwidthTerm(t *testing.T) {
	base := Score(ContributionMetrics{MessagesRelayed: 10})
	withBandwidth := Score(ContributionMetrics{MessagesRelayed: 10, BytesRelayed: 10 * 1024 * 1024})
	assert.Greater(t, withBandwidth, base, "bandwidth must increase the score per spec's documented formula")
}

func TestEvaluatePromotesHighScoringMember(t *testing.T) {
	topo := relay.NewTopology()
	id := mustID(t)
	topo.UpsertPeer(relay.PeerInfo{NodeId: id, Role: relay.RoleMember, Status: relay.StatusOnline})

	mgr := NewManager()
	for i := 0; i < 2000; i++ {
		mgr.RecordRelayed(id, 1024)
	}
	mgr.RecordBackupStored(id)
	mgr.RecordBackupStored(id)
	mgr.RecordBackupStored(id)
	mgr.RecordBackupStored(id)
	mgr.RecordBackupStored(id)

	changes := mgr.Evaluate(topo)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Promoted)
	assert.Equal(t, id, changes[0].NodeId)
}

func TestEvaluateDemotesLowScoringRelay(t *testing.T) {
	topo := relay.NewTopology()
	id := mustID(t)
	topo.UpsertPeer(relay.PeerInfo{NodeId: id, Role: relay.RoleRelay, Status: relay.StatusOnline})

	mgr := NewManager()
	mgr.RecordRelayed(id, 1)

	changes := mgr.Evaluate(topo)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].Promoted)
}

func TestEvaluateNoChangeWithinHysteresisBand(t *testing.T) {
	topo := relay.NewTopology()
	id := mustID(t)
	topo.UpsertPeer(relay.PeerInfo{NodeId: id, Role: relay.RoleMember, Status: relay.StatusOnline})

	mgr := NewManager()
	// Score somewhere between DemoteThreshold and PromoteThreshold.
	mgr.RecordRelayed(id, 1)
	mgr.RecordBackupStored(id)
	mgr.RecordBackupStored(id)

	changes := mgr.Evaluate(topo)
	assert.Empty(t, changes)
}
