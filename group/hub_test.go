package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
)

func newTestKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func TestHub_HandleCreate_RepliesAndInvites(t *testing.T) {
	creatorKp := newTestKeyPair(t)
	bob := newTestNodeId(t)
	hub := NewHub(newTestNodeId(t))

	actions, err := hub.HandleCreate(creatorKp.NodeId(), CreatePayload{
		Name:            "friends",
		CreatorUsername: "alice",
		InitialMembers:  []identity.NodeId{bob},
	})
	require.NoError(t, err)
	require.Len(t, actions, 2)

	created := actions[0].(Send)
	require.Equal(t, creatorKp.NodeId(), created.To)
	require.Equal(t, KindCreated, created.Payload.Kind)

	invite := actions[1].(Send)
	require.Equal(t, bob, invite.To)
	require.Equal(t, KindInvite, invite.Payload.Kind)
}

func TestHub_HandleJoin_SyncsAndBroadcasts(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	creator := newTestKeyPair(t)
	bob := newTestNodeId(t)
	carol := newTestNodeId(t)

	created, err := hub.HandleCreate(creator.NodeId(), CreatePayload{Name: "g", CreatorUsername: "alice", InitialMembers: []identity.NodeId{bob}})
	require.NoError(t, err)
	createdPayload, err := created[0].(Send).Payload.AsCreated()
	require.NoError(t, err)

	actions, err := hub.HandleJoin(carol, JoinPayload{GroupId: createdPayload.Group.GroupId, Username: "carol"})
	require.NoError(t, err)
	require.Len(t, actions, 3) // sync to carol + memberJoined to creator + memberJoined to bob

	sync := actions[0].(Send)
	require.Equal(t, carol, sync.To)
	require.Equal(t, KindSync, sync.Payload.Kind)
}

func TestHub_HandleJoin_RejectsFullGroup(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	creator := newTestKeyPair(t)
	members := make([]identity.NodeId, 0, MaxGroupMembers)
	for i := 0; i < MaxGroupMembers; i++ {
		members = append(members, newTestNodeId(t))
	}
	created, err := hub.HandleCreate(creator.NodeId(), CreatePayload{Name: "g", CreatorUsername: "alice", InitialMembers: members})
	require.NoError(t, err)
	createdPayload, err := created[0].(Send).Payload.AsCreated()
	require.NoError(t, err)

	_, err = hub.HandleJoin(newTestNodeId(t), JoinPayload{GroupId: createdPayload.Group.GroupId, Username: "late"})
	require.Error(t, err)
}

func TestHub_HandleJoin_RejectsDuplicateMember(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	creator := newTestKeyPair(t)
	created, err := hub.HandleCreate(creator.NodeId(), CreatePayload{Name: "g", CreatorUsername: "alice"})
	require.NoError(t, err)
	createdPayload, err := created[0].(Send).Payload.AsCreated()
	require.NoError(t, err)

	_, err = hub.HandleJoin(creator.NodeId(), JoinPayload{GroupId: createdPayload.Group.GroupId, Username: "alice"})
	require.Error(t, err)
}

func TestHub_HandleJoin_UnknownGroup(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	_, err := hub.HandleJoin(newTestNodeId(t), JoinPayload{GroupId: NewId()})
	require.Error(t, err)
}

func setupHubWithGroup(t *testing.T) (*Hub, Id, *identity.KeyPair, identity.NodeId) {
	t.Helper()
	hub := NewHub(newTestNodeId(t))
	creator := newTestKeyPair(t)
	bob := newTestNodeId(t)
	created, err := hub.HandleCreate(creator.NodeId(), CreatePayload{Name: "g", CreatorUsername: "alice", InitialMembers: []identity.NodeId{bob}})
	require.NoError(t, err)
	createdPayload, err := created[0].(Send).Payload.AsCreated()
	require.NoError(t, err)
	return hub, createdPayload.Group.GroupId, creator, bob
}

func TestHub_HandleMessage_BroadcastsToOthers(t *testing.T) {
	hub, groupId, creator, bob := setupHubWithGroup(t)

	msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
	msg.Sign(creator)

	actions, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, bob, actions[0].(Send).To)
}

func TestHub_HandleMessage_RejectsBadSignature(t *testing.T) {
	hub, groupId, creator, _ := setupHubWithGroup(t)
	other := newTestKeyPair(t)

	msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
	msg.Sign(other)

	_, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.Error(t, err)
}

func TestHub_HandleMessage_RejectsNonMember(t *testing.T) {
	hub, groupId, _, _ := setupHubWithGroup(t)
	stranger := newTestKeyPair(t)

	msg := NewMessage(groupId, stranger.NodeId(), "mallory", "hi")
	msg.Sign(stranger)

	_, err := hub.HandleMessage(stranger.NodeId(), *msg)
	require.Error(t, err)
}

func TestHub_HandleMessage_RejectsStaleTimestamp(t *testing.T) {
	hub, groupId, creator, _ := setupHubWithGroup(t)

	msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
	msg.SentAtMs = time.Now().Add(-time.Hour).UnixMilli()
	msg.Sign(creator)

	_, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.Error(t, err)
}

func TestHub_HandleMessage_RejectsDuplicateId(t *testing.T) {
	hub, groupId, creator, _ := setupHubWithGroup(t)

	msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
	msg.Sign(creator)

	_, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.NoError(t, err)

	_, err = hub.HandleMessage(creator.NodeId(), *msg)
	require.Error(t, err)
}

func TestHub_HandleMessage_EnforcesRateLimit(t *testing.T) {
	hub, groupId, creator, _ := setupHubWithGroup(t)

	for i := 0; i < GroupRateLimitPerSecond; i++ {
		msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
		msg.Sign(creator)
		_, err := hub.HandleMessage(creator.NodeId(), *msg)
		require.NoError(t, err)
	}

	msg := NewMessage(groupId, creator.NodeId(), "alice", "one too many")
	msg.Sign(creator)
	_, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.Error(t, err)
}

func TestHub_HandleLeave_BroadcastsMemberLeft(t *testing.T) {
	hub, groupId, creator, bob := setupHubWithGroup(t)

	actions, err := hub.HandleLeave(bob, LeavePayload{GroupId: groupId})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, creator.NodeId(), actions[0].(Send).To)
}

func TestHub_KickMember_RequiresAdmin(t *testing.T) {
	hub, groupId, _, bob := setupHubWithGroup(t)
	_, err := hub.KickMember(bob, groupId, bob)
	require.Error(t, err)
}

func TestHub_KickMember_RemovesTarget(t *testing.T) {
	hub, groupId, creator, bob := setupHubWithGroup(t)
	actions, err := hub.KickMember(creator.NodeId(), groupId, bob)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, creator.NodeId(), actions[0].(Send).To)
}

func TestHub_HandleDeliveryAck_IsNoOp(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	actions, err := hub.HandleDeliveryAck()
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestHub_ExportImportGroup_RoundTrips(t *testing.T) {
	hub, groupId, creator, _ := setupHubWithGroup(t)

	msg := NewMessage(groupId, creator.NodeId(), "alice", "hello")
	msg.Sign(creator)
	_, err := hub.HandleMessage(creator.NodeId(), *msg)
	require.NoError(t, err)

	info, history, ok := hub.ExportGroup(groupId)
	require.True(t, ok)
	require.Len(t, history, 1)

	newHub := NewHub(newTestNodeId(t))
	newHub.ImportGroup(info, history)

	gotInfo, gotHistory, ok := newHub.ExportGroup(groupId)
	require.True(t, ok)
	require.Equal(t, newHub.selfId, gotInfo.HubRelayId)
	require.Len(t, gotHistory, 1)
}

func TestHub_HandleHubPing_RepliesWithPong(t *testing.T) {
	hub := NewHub(newTestNodeId(t))
	pinger := newTestNodeId(t)
	groupId := NewId()

	actions, err := hub.HandleHubPing(pinger, HubPingPayload{GroupId: groupId})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	send := actions[0].(Send)
	require.Equal(t, pinger, send.To)
	require.Equal(t, KindHubPong, send.Payload.Kind)
}
