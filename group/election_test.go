package group

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
)

func newTestNodeId(t *testing.T) identity.NodeId {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp.NodeId()
}

func TestElectHub_PrefersOnlineBackup(t *testing.T) {
	failedHub := newTestNodeId(t)
	backup := newTestNodeId(t)
	other := newTestNodeId(t)

	topo := relay.NewTopology()
	topo.UpsertPeer(relay.PeerInfo{NodeId: backup, Role: relay.RoleRelay, Status: relay.StatusOnline, LastSeenMs: 1})
	topo.UpsertPeer(relay.PeerInfo{NodeId: other, Role: relay.RoleRelay, Status: relay.StatusOnline, LastSeenMs: 2})

	g := &Info{HubRelayId: failedHub, BackupHubId: &backup}
	result := ElectHub(g, failedHub, topo)

	require.Equal(t, ElectionBackup, result.Reason)
	require.NotNil(t, result.NewHubId)
	require.Equal(t, backup, *result.NewHubId)
}

func TestElectHub_FallsBackWhenBackupOffline(t *testing.T) {
	failedHub := newTestNodeId(t)
	backup := newTestNodeId(t)
	relayA := newTestNodeId(t)

	topo := relay.NewTopology()
	topo.UpsertPeer(relay.PeerInfo{NodeId: backup, Role: relay.RoleRelay, Status: relay.StatusOffline})
	topo.UpsertPeer(relay.PeerInfo{NodeId: relayA, Role: relay.RoleRelay, Status: relay.StatusOnline})

	g := &Info{HubRelayId: failedHub, BackupHubId: &backup}
	result := ElectHub(g, failedHub, topo)

	require.Equal(t, ElectionDeterministic, result.Reason)
	require.NotNil(t, result.NewHubId)
	require.Equal(t, relayA, *result.NewHubId)
}

func TestElectHub_FallsBackWhenBackupIsFailedHub(t *testing.T) {
	failedHub := newTestNodeId(t)
	relayA := newTestNodeId(t)

	topo := relay.NewTopology()
	topo.UpsertPeer(relay.PeerInfo{NodeId: relayA, Role: relay.RoleRelay, Status: relay.StatusOnline})

	g := &Info{HubRelayId: failedHub, BackupHubId: &failedHub}
	result := ElectHub(g, failedHub, topo)

	require.Equal(t, ElectionDeterministic, result.Reason)
	require.Equal(t, relayA, *result.NewHubId)
}

func TestElectHub_ExcludesFailedHub(t *testing.T) {
	failedHub := newTestNodeId(t)

	topo := relay.NewTopology()
	topo.UpsertPeer(relay.PeerInfo{NodeId: failedHub, Role: relay.RoleRelay, Status: relay.StatusOnline})

	g := &Info{HubRelayId: failedHub}
	result := ElectHub(g, failedHub, topo)

	require.Equal(t, ElectionNoCandidates, result.Reason)
	require.Nil(t, result.NewHubId)
}

func TestElectHub_DeterministicAcrossRepeatedCalls(t *testing.T) {
	failedHub := newTestNodeId(t)
	a := newTestNodeId(t)
	b := newTestNodeId(t)
	c := newTestNodeId(t)

	topo := relay.NewTopology()
	topo.UpsertPeer(relay.PeerInfo{NodeId: a, Role: relay.RoleRelay, Status: relay.StatusOnline})
	topo.UpsertPeer(relay.PeerInfo{NodeId: b, Role: relay.RoleRelay, Status: relay.StatusOnline})
	topo.UpsertPeer(relay.PeerInfo{NodeId: c, Role: relay.RoleRelay, Status: relay.StatusOnline})

	g := &Info{HubRelayId: failedHub}
	first := ElectHub(g, failedHub, topo)
	second := ElectHub(g, failedHub, topo)

	require.Equal(t, first.NewHubId, second.NewHubId)
	require.Equal(t, 3, first.CandidateCount)
}

func TestElectHub_NoCandidatesWhenTopologyEmpty(t *testing.T) {
	failedHub := newTestNodeId(t)
	topo := relay.NewTopology()

	g := &Info{HubRelayId: failedHub}
	result := ElectHub(g, failedHub, topo)

	require.Equal(t, ElectionNoCandidates, result.Reason)
	require.Equal(t, 0, result.CandidateCount)
}
