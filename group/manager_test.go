package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
)

func TestManager_CreateGroup_SendsCreatePayload(t *testing.T) {
	alice := newTestNodeId(t)
	hub := newTestNodeId(t)
	bob := newTestNodeId(t)

	m := NewManager(alice, "alice")
	actions, err := m.CreateGroup(hub, "friends", []identity.NodeId{bob})
	require.NoError(t, err)
	require.Len(t, actions, 1)

	send, ok := actions[0].(Send)
	require.True(t, ok)
	require.Equal(t, hub, send.To)
	require.Equal(t, KindCreate, send.Payload.Kind)

	cp, err := send.Payload.AsCreate()
	require.NoError(t, err)
	require.Equal(t, "friends", cp.Name)
	require.Equal(t, []identity.NodeId{bob}, cp.InitialMembers)
}

func TestManager_HandleGroupCreated_AdoptsGroup(t *testing.T) {
	alice := newTestNodeId(t)
	m := NewManager(alice, "alice")

	info := Info{GroupId: NewId(), Name: "friends", HubRelayId: newTestNodeId(t)}
	actions := m.HandleGroupCreated(CreatedPayload{Group: info})
	require.Len(t, actions, 1)
	require.True(t, m.IsInGroup(info.GroupId))

	got, ok := m.GetGroup(info.GroupId)
	require.True(t, ok)
	require.Equal(t, info.Name, got.Name)
}

func TestManager_InviteLifecycle_AcceptSendsJoin(t *testing.T) {
	bob := newTestNodeId(t)
	hub := newTestNodeId(t)
	m := NewManager(bob, "bob")

	groupId := NewId()
	invite := Invite{
		GroupId:     groupId,
		GroupName:   "friends",
		HubRelayId:  hub,
		InvitedAtMs: time.Now().UnixMilli(),
		ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli(),
	}
	events := m.HandleInvite(InvitePayload{Invite: invite})
	require.Len(t, events, 1)
	require.Len(t, m.PendingInvites(), 1)

	actions, err := m.AcceptInvite(groupId)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Empty(t, m.PendingInvites())

	send := actions[0].(Send)
	require.Equal(t, hub, send.To)
	require.Equal(t, KindJoin, send.Payload.Kind)
}

func TestManager_AcceptInvite_RejectsExpired(t *testing.T) {
	bob := newTestNodeId(t)
	m := NewManager(bob, "bob")

	groupId := NewId()
	invite := Invite{
		GroupId:     groupId,
		ExpiresAtMs: time.Now().Add(-time.Hour).UnixMilli(),
	}
	m.HandleInvite(InvitePayload{Invite: invite})

	_, err := m.AcceptInvite(groupId)
	require.Error(t, err)
	require.Empty(t, m.PendingInvites())
}

func TestManager_AcceptInvite_UnknownInvite(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	_, err := m.AcceptInvite(NewId())
	require.Error(t, err)
}

func TestManager_DeclineInvite_Discards(t *testing.T) {
	bob := newTestNodeId(t)
	m := NewManager(bob, "bob")
	groupId := NewId()
	m.HandleInvite(InvitePayload{Invite: Invite{GroupId: groupId, ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli()}})
	require.Len(t, m.PendingInvites(), 1)

	m.DeclineInvite(groupId)
	require.Empty(t, m.PendingInvites())
}

func TestManager_CleanupExpiredInvites(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	expired := NewId()
	active := NewId()
	m.HandleInvite(InvitePayload{Invite: Invite{GroupId: expired, ExpiresAtMs: time.Now().Add(-time.Minute).UnixMilli()}})
	m.HandleInvite(InvitePayload{Invite: Invite{GroupId: active, ExpiresAtMs: time.Now().Add(time.Hour).UnixMilli()}})

	m.CleanupExpiredInvites()
	require.Len(t, m.PendingInvites(), 1)
	require.Equal(t, active, m.PendingInvites()[0].GroupId)
}

func TestManager_HandleGroupSync_LoadsHistory(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	groupId := NewId()
	msg := *NewMessage(groupId, newTestNodeId(t), "alice", "hi")

	events := m.HandleGroupSync(SyncPayload{Group: Info{GroupId: groupId}, History: []Message{msg}})
	require.Len(t, events, 1)
	require.True(t, m.IsInGroup(groupId))
	require.Equal(t, []Message{msg}, m.MessageHistory(groupId))
}

func TestManager_HandleMemberJoined_IgnoresDuplicate(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	groupId := NewId()
	m.groups[groupId] = &Info{GroupId: groupId}

	bob := newTestNodeId(t)
	events := m.HandleMemberJoined(MemberJoinedPayload{GroupId: groupId, Member: Member{NodeId: bob}})
	require.Len(t, events, 1)

	events = m.HandleMemberJoined(MemberJoinedPayload{GroupId: groupId, Member: Member{NodeId: bob}})
	require.Empty(t, events)

	g, _ := m.GetGroup(groupId)
	require.Len(t, g.Members, 1)
}

func TestManager_HandleMemberLeft_Removes(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	groupId := NewId()
	bob := newTestNodeId(t)
	m.groups[groupId] = &Info{GroupId: groupId, Members: []Member{{NodeId: bob}}}

	events := m.HandleMemberLeft(MemberLeftPayload{GroupId: groupId, NodeId: bob, Reason: LeaveVoluntary})
	require.Len(t, events, 1)

	g, _ := m.GetGroup(groupId)
	require.Empty(t, g.Members)
}

func TestManager_LeaveGroup_ClearsLocalStateAndSendsLeave(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	hub := newTestNodeId(t)
	groupId := NewId()
	m.groups[groupId] = &Info{GroupId: groupId, HubRelayId: hub}

	actions, err := m.LeaveGroup(groupId)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.False(t, m.IsInGroup(groupId))

	send := actions[0].(Send)
	require.Equal(t, hub, send.To)
	require.Equal(t, KindLeave, send.Payload.Kind)
}

func TestManager_LeaveGroup_NotAMember(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	_, err := m.LeaveGroup(NewId())
	require.Error(t, err)
}

func TestManager_HandleMessage_IgnoredWhenNotMember(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	msg := *NewMessage(NewId(), newTestNodeId(t), "alice", "hi")
	require.Empty(t, m.HandleMessage(msg))
}

func TestManager_HandleMessage_AppendsHistory(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	groupId := NewId()
	m.groups[groupId] = &Info{GroupId: groupId}

	msg := *NewMessage(groupId, newTestNodeId(t), "alice", "hi")
	events := m.HandleMessage(msg)
	require.Len(t, events, 1)
	require.Equal(t, []Message{msg}, m.MessageHistory(groupId))
}

func TestManager_HandleHubMigration_UpdatesHub(t *testing.T) {
	m := NewManager(newTestNodeId(t), "bob")
	groupId := NewId()
	oldHub := newTestNodeId(t)
	newHub := newTestNodeId(t)
	m.groups[groupId] = &Info{GroupId: groupId, HubRelayId: oldHub}

	events := m.HandleHubMigration(HubMigrationPayload{GroupId: groupId, NewHubId: newHub})
	require.Len(t, events, 1)

	g, _ := m.GetGroup(groupId)
	require.Equal(t, newHub, g.HubRelayId)
}
