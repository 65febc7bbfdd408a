package group

import (
	"time"

	"github.com/tom-x-project/tom/identity"
)

// DefaultMaxHistoryPerGroup bounds how many messages a member keeps
// locally per group.
const DefaultMaxHistoryPerGroup = MaxSyncMessages

// Manager is the member-side view of every group the local node
// belongs to or has been invited to. It holds no network connection
// itself; every method returns the Actions the runtime should carry
// out. Grounded on original_source's group/manager.rs.
type Manager struct {
	localId            identity.NodeId
	localUsername      string
	groups             map[Id]*Info
	pendingInvites     map[Id]Invite
	messageHistory     map[Id][]Message
	maxHistoryPerGroup int
}

// NewManager creates a Manager for the local node.
func NewManager(localId identity.NodeId, localUsername string) *Manager {
	return &Manager{
		localId:            localId,
		localUsername:      localUsername,
		groups:             make(map[Id]*Info),
		pendingInvites:      make(map[Id]Invite),
		messageHistory:      make(map[Id][]Message),
		maxHistoryPerGroup: DefaultMaxHistoryPerGroup,
	}
}

// AllGroups returns every group the local node currently belongs to.
func (m *Manager) AllGroups() []Info {
	out := make([]Info, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g)
	}
	return out
}

// GetGroup looks up a group by id.
func (m *Manager) GetGroup(id Id) (Info, bool) {
	g, ok := m.groups[id]
	if !ok {
		return Info{}, false
	}
	return *g, true
}

// IsInGroup reports whether the local node currently belongs to id.
func (m *Manager) IsInGroup(id Id) bool {
	_, ok := m.groups[id]
	return ok
}

// PendingInvites returns every invite not yet accepted, declined, or
// expired.
func (m *Manager) PendingInvites() []Invite {
	out := make([]Invite, 0, len(m.pendingInvites))
	for _, inv := range m.pendingInvites {
		out = append(out, inv)
	}
	return out
}

// MessageHistory returns the locally held history for a group, oldest
// first.
func (m *Manager) MessageHistory(id Id) []Message {
	return append([]Message(nil), m.messageHistory[id]...)
}

// MessagesForSync returns up to MaxSyncMessages of the most recent
// history for a group, the shape the hub sends on join.
func (m *Manager) MessagesForSync(id Id) []Message {
	hist := m.messageHistory[id]
	if len(hist) <= MaxSyncMessages {
		return append([]Message(nil), hist...)
	}
	return append([]Message(nil), hist[len(hist)-MaxSyncMessages:]...)
}

// CreateGroup requests a new group from hubRelayId, inviting
// initialMembers (the creator is always an implicit member and need
// not be listed).
func (m *Manager) CreateGroup(hubRelayId identity.NodeId, name string, initialMembers []identity.NodeId) ([]Action, error) {
	payload, err := NewCreatePayload(CreatePayload{
		Name:            name,
		CreatorUsername: m.localUsername,
		InitialMembers:  initialMembers,
	})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: hubRelayId, Payload: payload}}, nil
}

// HandleGroupCreated adopts the hub's confirmation of a group this node
// created.
func (m *Manager) HandleGroupCreated(p CreatedPayload) []Action {
	g := p.Group
	m.groups[g.GroupId] = &g
	return []Action{Event{Kind: EventGroupCreated, Group: &g}}
}

// HandleInvite records an incoming invite, unless the local node is
// already a member of that group (a stale re-invite is simply ignored).
func (m *Manager) HandleInvite(p InvitePayload) []Action {
	if m.IsInGroup(p.Invite.GroupId) {
		return None
	}
	m.pendingInvites[p.Invite.GroupId] = p.Invite
	return []Action{Event{Kind: EventInviteReceived, Invite: &p.Invite}}
}

// AcceptInvite accepts a pending invite not yet expired, removing it
// from the pending set and requesting to join at its hub.
func (m *Manager) AcceptInvite(groupId Id) ([]Action, error) {
	inv, ok := m.pendingInvites[groupId]
	if !ok {
		return nil, errNoSuchInvite(groupId)
	}
	delete(m.pendingInvites, groupId)
	if inv.IsExpired(time.Now().UnixMilli()) {
		return nil, errInviteExpired(groupId)
	}

	payload, err := NewJoinPayload(JoinPayload{GroupId: groupId, Username: m.localUsername})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: inv.HubRelayId, Payload: payload}}, nil
}

// DeclineInvite simply discards a pending invite.
func (m *Manager) DeclineInvite(groupId Id) {
	delete(m.pendingInvites, groupId)
}

// CleanupExpiredInvites discards every pending invite that has expired
// as of now.
func (m *Manager) CleanupExpiredInvites() {
	now := time.Now().UnixMilli()
	for id, inv := range m.pendingInvites {
		if inv.IsExpired(now) {
			delete(m.pendingInvites, id)
		}
	}
}

// HandleGroupSync adopts the hub's post-join snapshot: full group
// record and recent history.
func (m *Manager) HandleGroupSync(p SyncPayload) []Action {
	g := p.Group
	m.groups[g.GroupId] = &g
	m.messageHistory[g.GroupId] = append([]Message(nil), p.History...)
	return []Action{Event{Kind: EventJoined, GroupId: g.GroupId}}
}

// HandleMemberJoined records a new member in a group the local node
// already belongs to, ignoring a duplicate announcement.
func (m *Manager) HandleMemberJoined(p MemberJoinedPayload) []Action {
	g, ok := m.groups[p.GroupId]
	if !ok {
		return None
	}
	if g.IsMember(p.Member.NodeId) {
		return None
	}
	g.Members = append(g.Members, p.Member)
	return []Action{Event{Kind: EventMemberJoined, GroupId: p.GroupId, Member: &p.Member}}
}

// HandleMemberLeft removes a member from the local record of a group.
func (m *Manager) HandleMemberLeft(p MemberLeftPayload) []Action {
	g, ok := m.groups[p.GroupId]
	if !ok {
		return None
	}
	for i, mem := range g.Members {
		if mem.NodeId == p.NodeId {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			break
		}
	}
	return []Action{Event{
		Kind:         EventMemberLeft,
		GroupId:      p.GroupId,
		LeftNodeId:   p.NodeId,
		LeftUsername: p.Username,
		LeaveReason:  p.Reason,
	}}
}

// LeaveGroup removes all local state for a group and notifies its hub.
func (m *Manager) LeaveGroup(groupId Id) ([]Action, error) {
	g, ok := m.groups[groupId]
	if !ok {
		return nil, errNotInGroup(groupId)
	}
	hub := g.HubRelayId
	delete(m.groups, groupId)
	delete(m.messageHistory, groupId)

	payload, err := NewLeavePayload(LeavePayload{GroupId: groupId})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: hub, Payload: payload}}, nil
}

// HandleMessage appends an incoming message to local history, ignoring
// messages for a group the local node is not (or no longer) a member
// of.
func (m *Manager) HandleMessage(msg Message) []Action {
	if !m.IsInGroup(msg.GroupId) {
		return None
	}
	hist := append(m.messageHistory[msg.GroupId], msg)
	if len(hist) > m.maxHistoryPerGroup {
		hist = hist[len(hist)-m.maxHistoryPerGroup:]
	}
	m.messageHistory[msg.GroupId] = hist
	return []Action{Event{Kind: EventMessageReceived, GroupId: msg.GroupId, Message: &msg}}
}

// HandleHubMigration updates a group's hub after a failover election.
func (m *Manager) HandleHubMigration(p HubMigrationPayload) []Action {
	g, ok := m.groups[p.GroupId]
	if !ok {
		return None
	}
	g.HubRelayId = p.NewHubId
	return []Action{Event{Kind: EventHubMigrated, GroupId: p.GroupId, NewHubId: p.NewHubId}}
}
