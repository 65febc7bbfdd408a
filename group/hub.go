package group

import (
	"time"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/identity"
)

// MessageTimestampSkew bounds how far a message's SentAtMs may drift
// from the hub's own clock before it is rejected, guarding against
// replay of old signed messages and against clock-skewed senders.
const MessageTimestampSkew = 5 * time.Minute

// MaxHubMessages is the hub-wide cap on retained message history across
// every group it serves. When exceeded, trimOldestMessages evicts from
// whichever group currently holds the most history, down to 90% of
// the cap, matching original_source's trim_oldest_messages strategy.
const MaxHubMessages = 10000

// dedupWindow bounds how long a message id is remembered for replay
// rejection.
const dedupWindow = 10 * time.Minute

// rateWindow is the sliding window duration used for per-sender rate
// limiting.
const rateWindow = time.Second

type hubGroupState struct {
	info               Info
	history            []Message
	recentMessageIds   map[uuid.UUID]time.Time
	rateTimestamps     map[identity.NodeId][]time.Time
	lastHeartbeatAt    time.Time
	shadowPingFailures int
	configVersion      int64
}

// Hub is the relay-side authority for every group it hosts: it owns
// membership, message history, and rate limiting, and decides what to
// broadcast. Grounded on original_source's group/hub.rs.
type Hub struct {
	selfId identity.NodeId
	groups map[Id]*hubGroupState
}

// NewHub creates a Hub identified by selfId.
func NewHub(selfId identity.NodeId) *Hub {
	return &Hub{selfId: selfId, groups: make(map[Id]*hubGroupState)}
}

// HandlePayload dispatches an incoming group-protocol payload from
// senderId to the matching handler.
func (h *Hub) HandlePayload(senderId identity.NodeId, p Payload) ([]Action, error) {
	switch p.Kind {
	case KindCreate:
		cp, err := p.AsCreate()
		if err != nil {
			return nil, err
		}
		return h.HandleCreate(senderId, cp)
	case KindJoin:
		jp, err := p.AsJoin()
		if err != nil {
			return nil, err
		}
		return h.HandleJoin(senderId, jp)
	case KindLeave:
		lp, err := p.AsLeave()
		if err != nil {
			return nil, err
		}
		return h.HandleLeave(senderId, lp)
	case KindMessage:
		msg, err := p.AsMessage()
		if err != nil {
			return nil, err
		}
		return h.HandleMessage(senderId, msg)
	case KindDeliveryAck:
		return h.HandleDeliveryAck()
	case KindSenderKeyDistribution:
		sp, err := p.AsSenderKeyDistribution()
		if err != nil {
			return nil, err
		}
		return h.HandleSenderKeyDistribution(sp)
	case KindHubPing:
		pp, err := p.AsHubPing()
		if err != nil {
			return nil, err
		}
		return h.HandleHubPing(senderId, pp)
	default:
		return None, nil
	}
}

// HandleCreate creates a new group owned by creatorId, admitting
// creatorId plus every id in p.InitialMembers (deduplicated, capped at
// MaxGroupMembers), and returns a Created reply to the creator plus an
// Invite to each other initial member.
func (h *Hub) HandleCreate(creatorId identity.NodeId, p CreatePayload) ([]Action, error) {
	now := time.Now().UnixMilli()
	groupId := NewId()

	members := []Member{{NodeId: creatorId, Username: p.CreatorUsername, JoinedAt: now, Role: MemberRoleAdmin}}
	seen := map[identity.NodeId]bool{creatorId: true}
	for _, id := range p.InitialMembers {
		if seen[id] || len(members) >= MaxGroupMembers {
			continue
		}
		seen[id] = true
		members = append(members, Member{NodeId: id, JoinedAt: now, Role: MemberRoleMember})
	}

	info := Info{
		GroupId:        groupId,
		Name:           p.Name,
		HubRelayId:     h.selfId,
		Members:        members,
		CreatedBy:      creatorId,
		CreatedAt:      now,
		LastActivityAt: now,
		MaxMembers:     MaxGroupMembers,
	}
	h.groups[groupId] = &hubGroupState{
		info:             info,
		recentMessageIds: make(map[uuid.UUID]time.Time),
		rateTimestamps:   make(map[identity.NodeId][]time.Time),
	}

	createdPayload, err := NewCreatedPayload(CreatedPayload{Group: info})
	if err != nil {
		return nil, err
	}
	actions := []Action{Send{To: creatorId, Payload: createdPayload}}

	for _, m := range members {
		if m.NodeId == creatorId {
			continue
		}
		invite := Invite{
			GroupId:         groupId,
			GroupName:       p.Name,
			InviterId:       creatorId,
			InviterUsername: p.CreatorUsername,
			HubRelayId:      h.selfId,
			InvitedAtMs:     now,
			ExpiresAtMs:     now + InviteTTL.Milliseconds(),
		}
		invitePayload, err := NewInvitePayload(InvitePayload{Invite: invite})
		if err != nil {
			return nil, err
		}
		actions = append(actions, Send{To: m.NodeId, Payload: invitePayload})
	}
	return actions, nil
}

// HandleJoin admits joinerId into an existing group, rejecting an
// unknown group, a full group, or a request from an existing member.
// On success it replies to the joiner with a Sync of the current group
// and recent history, and broadcasts MemberJoined to every other
// member.
func (h *Hub) HandleJoin(joinerId identity.NodeId, p JoinPayload) ([]Action, error) {
	gs, ok := h.groups[p.GroupId]
	if !ok {
		return nil, errNoSuchGroup(p.GroupId)
	}
	if gs.info.IsMember(joinerId) {
		return nil, errAlreadyMember(p.GroupId)
	}
	if gs.info.IsFull() {
		return nil, errGroupFull(p.GroupId)
	}

	now := time.Now().UnixMilli()
	member := Member{NodeId: joinerId, Username: p.Username, JoinedAt: now, Role: MemberRoleMember}
	gs.info.Members = append(gs.info.Members, member)
	gs.info.LastActivityAt = now

	syncPayload, err := NewSyncPayload(SyncPayload{Group: gs.info, History: lastN(gs.history, MaxSyncMessages)})
	if err != nil {
		return nil, err
	}
	actions := []Action{Send{To: joinerId, Payload: syncPayload}}

	memberJoinedPayload, err := NewMemberJoinedPayload(MemberJoinedPayload{GroupId: p.GroupId, Member: member})
	if err != nil {
		return nil, err
	}
	for _, m := range gs.info.Members {
		if m.NodeId == joinerId {
			continue
		}
		actions = append(actions, Send{To: m.NodeId, Payload: memberJoinedPayload})
	}
	return actions, nil
}

// HandleLeave removes leaverId from a group it belongs to and
// broadcasts MemberLeft(LeaveVoluntary) to the rest.
func (h *Hub) HandleLeave(leaverId identity.NodeId, p LeavePayload) ([]Action, error) {
	gs, ok := h.groups[p.GroupId]
	if !ok {
		return nil, errNoSuchGroup(p.GroupId)
	}
	member, ok := gs.info.GetMember(leaverId)
	if !ok {
		return nil, errNotInGroup(p.GroupId)
	}
	return h.removeMember(gs, member, LeaveVoluntary)
}

// KickMember removes targetId from a group on adminId's authority.
func (h *Hub) KickMember(adminId identity.NodeId, groupId Id, targetId identity.NodeId) ([]Action, error) {
	gs, ok := h.groups[groupId]
	if !ok {
		return nil, errNoSuchGroup(groupId)
	}
	if !gs.info.IsAdmin(adminId) {
		return nil, errNotAdmin(groupId)
	}
	member, ok := gs.info.GetMember(targetId)
	if !ok {
		return nil, errNotInGroup(groupId)
	}
	return h.removeMember(gs, member, LeaveKicked)
}

func (h *Hub) removeMember(gs *hubGroupState, member Member, reason LeaveReason) ([]Action, error) {
	for i, m := range gs.info.Members {
		if m.NodeId == member.NodeId {
			gs.info.Members = append(gs.info.Members[:i], gs.info.Members[i+1:]...)
			break
		}
	}
	gs.info.LastActivityAt = time.Now().UnixMilli()

	payload, err := NewMemberLeftPayload(MemberLeftPayload{
		GroupId:  gs.info.GroupId,
		NodeId:   member.NodeId,
		Username: member.Username,
		Reason:   reason,
	})
	if err != nil {
		return nil, err
	}
	var actions []Action
	for _, m := range gs.info.Members {
		actions = append(actions, Send{To: m.NodeId, Payload: payload})
	}
	return actions, nil
}

// HandleMessage validates and relays a chat message: the sender must
// be a current member, the signature must verify, the timestamp must
// be within MessageTimestampSkew of now, the message id must not have
// been seen before, and the sender must not have exceeded
// GroupRateLimitPerSecond. On success the message is appended to
// history (subject to MaxHubMessages) and broadcast to every other
// member.
func (h *Hub) HandleMessage(senderId identity.NodeId, msg Message) ([]Action, error) {
	gs, ok := h.groups[msg.GroupId]
	if !ok {
		return nil, errNoSuchGroup(msg.GroupId)
	}
	if !gs.info.IsMember(senderId) {
		return nil, errNotInGroup(msg.GroupId)
	}
	if msg.SenderId != senderId {
		return nil, errInvalidSignature()
	}
	if !msg.VerifySignature() {
		return nil, errInvalidSignature()
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	skewMs := MessageTimestampSkew.Milliseconds()
	if msg.SentAtMs < nowMs-skewMs || msg.SentAtMs > nowMs+skewMs {
		return nil, errTimestampOutOfBounds()
	}

	if seenAt, dup := gs.recentMessageIds[msg.MessageId]; dup && now.Sub(seenAt) < dedupWindow {
		return nil, errDuplicateMessage()
	}
	if !h.checkRateLimit(gs, senderId, now) {
		return nil, errRateLimited()
	}
	gs.recentMessageIds[msg.MessageId] = now
	h.sweepDedup(gs, now)

	gs.history = append(gs.history, msg)
	gs.info.LastActivityAt = nowMs
	h.trimOldestMessages()

	payload, err := NewMessagePayload(msg)
	if err != nil {
		return nil, err
	}
	var actions []Action
	for _, m := range gs.info.Members {
		if m.NodeId == senderId {
			continue
		}
		actions = append(actions, Send{To: m.NodeId, Payload: payload})
	}
	return actions, nil
}

// checkRateLimit reports whether senderId may send another message in
// group gs at time now, evicting timestamps older than rateWindow as
// it goes.
func (h *Hub) checkRateLimit(gs *hubGroupState, senderId identity.NodeId, now time.Time) bool {
	cutoff := now.Add(-rateWindow)
	timestamps := gs.rateTimestamps[senderId]
	kept := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= GroupRateLimitPerSecond {
		gs.rateTimestamps[senderId] = kept
		return false
	}
	gs.rateTimestamps[senderId] = append(kept, now)
	return true
}

func (h *Hub) sweepDedup(gs *hubGroupState, now time.Time) {
	for id, seenAt := range gs.recentMessageIds {
		if now.Sub(seenAt) >= dedupWindow {
			delete(gs.recentMessageIds, id)
		}
	}
}

// trimOldestMessages enforces MaxHubMessages across every group hosted
// by this hub, repeatedly trimming the largest history down to 90% of
// the cap until the hub-wide total is back under the limit. Mirrors
// original_source's trim_oldest_messages.
func (h *Hub) trimOldestMessages() {
	target := MaxHubMessages * 9 / 10
	for {
		total := 0
		var largest *hubGroupState
		for _, gs := range h.groups {
			total += len(gs.history)
			if largest == nil || len(gs.history) > len(largest.history) {
				largest = gs
			}
		}
		if total <= MaxHubMessages || largest == nil || len(largest.history) == 0 {
			return
		}
		excess := total - target
		if excess > len(largest.history) {
			excess = len(largest.history)
		}
		largest.history = largest.history[excess:]
	}
}

// HandleDeliveryAck is a literal no-op: the hub has no per-recipient
// delivery bookkeeping to update (see DESIGN.md).
func (h *Hub) HandleDeliveryAck() ([]Action, error) {
	return None, nil
}

// HandleSenderKeyDistribution forwards each recipient's encrypted copy
// of a sender key unchanged, in a payload that carries only that
// recipient's entry; the hub never sees the key itself.
func (h *Hub) HandleSenderKeyDistribution(p SenderKeyDistributionPayload) ([]Action, error) {
	var actions []Action
	for _, enc := range p.EncryptedKeys {
		single := p
		single.EncryptedKeys = []EncryptedSenderKey{enc}
		payload, err := NewSenderKeyDistributionPayload(single)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Send{To: enc.RecipientId, Payload: payload})
	}
	return actions, nil
}

// HandleHubPing answers a shadow or candidate watchdog's liveness
// probe.
func (h *Hub) HandleHubPing(pingerId identity.NodeId, p HubPingPayload) ([]Action, error) {
	payload, err := NewHubPongPayload(HubPongPayload{GroupId: p.GroupId})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: pingerId, Payload: payload}}, nil
}

// HeartbeatActions returns a HubHeartbeat broadcast for every group
// whose heartbeat interval has elapsed since the last one, and
// advances their clocks.
func (h *Hub) HeartbeatActions() ([]Action, error) {
	now := time.Now()
	var actions []Action
	for _, gs := range h.groups {
		if now.Sub(gs.lastHeartbeatAt) < HubHeartbeatInterval {
			continue
		}
		gs.lastHeartbeatAt = now
		payload, err := NewHubHeartbeatPayload(HubHeartbeatPayload{
			GroupId:     gs.info.GroupId,
			MemberCount: gs.info.MemberCount(),
		})
		if err != nil {
			return nil, err
		}
		for _, m := range gs.info.Members {
			actions = append(actions, Send{To: m.NodeId, Payload: payload})
		}
	}
	return actions, nil
}

// AssignShadow designates shadowId as groupId's standby hub and sends
// it an initial HubShadowSync.
func (h *Hub) AssignShadow(groupId Id, shadowId identity.NodeId) ([]Action, error) {
	gs, ok := h.groups[groupId]
	if !ok {
		return nil, errNoSuchGroup(groupId)
	}
	id := shadowId
	gs.info.ShadowId = &id
	return h.buildShadowSync(gs, shadowId)
}

// AssignCandidate designates candidateId as groupId's second-in-line
// failover candidate.
func (h *Hub) AssignCandidate(groupId Id, candidateId identity.NodeId) ([]Action, error) {
	gs, ok := h.groups[groupId]
	if !ok {
		return nil, errNoSuchGroup(groupId)
	}
	id := candidateId
	gs.info.CandidateId = &id
	payload, err := NewCandidateAssignedPayload(CandidateAssignedPayload{GroupId: groupId})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: candidateId, Payload: payload}}, nil
}

func (h *Hub) buildShadowSync(gs *hubGroupState, shadowId identity.NodeId) ([]Action, error) {
	gs.configVersion++
	payload, err := NewHubShadowSyncPayload(HubShadowSyncPayload{
		GroupId:       gs.info.GroupId,
		Members:       append([]Member(nil), gs.info.Members...),
		CandidateId:   gs.info.CandidateId,
		ConfigVersion: gs.configVersion,
	})
	if err != nil {
		return nil, err
	}
	return []Action{Send{To: shadowId, Payload: payload}}, nil
}

// ExportGroup returns the full hub-side state for groupId, used to
// hand the group off to a newly elected hub during failover.
func (h *Hub) ExportGroup(groupId Id) (Info, []Message, bool) {
	gs, ok := h.groups[groupId]
	if !ok {
		return Info{}, nil, false
	}
	return gs.info, append([]Message(nil), gs.history...), true
}

// ImportGroup adopts a group handed off by a previous hub, replacing
// its recorded HubRelayId with this hub's own id.
func (h *Hub) ImportGroup(info Info, history []Message) {
	info.HubRelayId = h.selfId
	h.groups[info.GroupId] = &hubGroupState{
		info:             info,
		history:          append([]Message(nil), history...),
		recentMessageIds: make(map[uuid.UUID]time.Time),
		rateTimestamps:   make(map[identity.NodeId][]time.Time),
	}
}

func lastN(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return append([]Message(nil), msgs...)
	}
	return append([]Message(nil), msgs[len(msgs)-n:]...)
}
