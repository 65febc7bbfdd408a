package group

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tom-x-project/tom/identity"
)

// PayloadKind is the closed set of group-protocol message kinds carried
// inside an envelope.MsgTypeGroup envelope.
type PayloadKind uint8

const (
	KindCreate PayloadKind = iota
	KindCreated
	KindInvite
	KindJoin
	KindSync
	KindMessage
	KindLeave
	KindMemberJoined
	KindMemberLeft
	KindDeliveryAck
	KindHubMigration
	KindHubHeartbeat
	KindSenderKeyDistribution
	KindHubPing
	KindHubPong
	KindHubShadowSync
	KindCandidateAssigned
	KindHubUnreachable
)

// Payload is the wire envelope for every group-protocol message: a kind
// tag plus msgpack-encoded data for that kind. Using an opaque Data
// field (rather than one optional pointer field per kind) keeps the
// wire format stable as kinds are added and matches the same
// tag-plus-opaque-body shape used by envelope.Envelope itself.
type Payload struct {
	Kind PayloadKind `msgpack:"kind"`
	Data []byte      `msgpack:"data"`
}

func encode(kind PayloadKind, v interface{}) (Payload, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("group: encode payload kind %d: %w", kind, err)
	}
	return Payload{Kind: kind, Data: b}, nil
}

func (p Payload) decode(v interface{}) error {
	if err := msgpack.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("group: decode payload kind %d: %w", p.Kind, err)
	}
	return nil
}

// CreatePayload requests a new group be created at a hub.
type CreatePayload struct {
	Name            string            `msgpack:"name"`
	CreatorUsername string            `msgpack:"creator_username"`
	InitialMembers  []identity.NodeId `msgpack:"initial_members"`
}

func NewCreatePayload(p CreatePayload) (Payload, error) { return encode(KindCreate, p) }
func (p Payload) AsCreate() (CreatePayload, error) {
	var v CreatePayload
	return v, p.decode(&v)
}

// CreatedPayload is the hub's reply to the creator confirming the new
// group's full record.
type CreatedPayload struct {
	Group Info `msgpack:"group"`
}

func NewCreatedPayload(p CreatedPayload) (Payload, error) { return encode(KindCreated, p) }
func (p Payload) AsCreated() (CreatedPayload, error) {
	var v CreatedPayload
	return v, p.decode(&v)
}

// InvitePayload is sent by the hub to each newly invited member.
type InvitePayload struct {
	Invite Invite `msgpack:"invite"`
}

func NewInvitePayload(p InvitePayload) (Payload, error) { return encode(KindInvite, p) }
func (p Payload) AsInvite() (InvitePayload, error) {
	var v InvitePayload
	return v, p.decode(&v)
}

// JoinPayload is sent by an invitee accepting their invite.
type JoinPayload struct {
	GroupId  Id     `msgpack:"group_id"`
	Username string `msgpack:"username"`
}

func NewJoinPayload(p JoinPayload) (Payload, error) { return encode(KindJoin, p) }
func (p Payload) AsJoin() (JoinPayload, error) {
	var v JoinPayload
	return v, p.decode(&v)
}

// SyncPayload is the hub's reply to a successful join: the full group
// record plus recent history, up to MaxSyncMessages.
type SyncPayload struct {
	Group   Info      `msgpack:"group"`
	History []Message `msgpack:"history"`
}

func NewSyncPayload(p SyncPayload) (Payload, error) { return encode(KindSync, p) }
func (p Payload) AsSync() (SyncPayload, error) {
	var v SyncPayload
	return v, p.decode(&v)
}

// MessagePayload carries one chat Message.
type MessagePayload struct {
	Message Message `msgpack:"message"`
}

func NewMessagePayload(m Message) (Payload, error) { return encode(KindMessage, MessagePayload{Message: m}) }
func (p Payload) AsMessage() (Message, error) {
	var v MessagePayload
	if err := p.decode(&v); err != nil {
		return Message{}, err
	}
	return v.Message, nil
}

// LeavePayload is sent by a member leaving voluntarily.
type LeavePayload struct {
	GroupId Id `msgpack:"group_id"`
}

func NewLeavePayload(p LeavePayload) (Payload, error) { return encode(KindLeave, p) }
func (p Payload) AsLeave() (LeavePayload, error) {
	var v LeavePayload
	return v, p.decode(&v)
}

// MemberJoinedPayload is broadcast by the hub to existing members.
type MemberJoinedPayload struct {
	GroupId Id     `msgpack:"group_id"`
	Member  Member `msgpack:"member"`
}

func NewMemberJoinedPayload(p MemberJoinedPayload) (Payload, error) { return encode(KindMemberJoined, p) }
func (p Payload) AsMemberJoined() (MemberJoinedPayload, error) {
	var v MemberJoinedPayload
	return v, p.decode(&v)
}

// MemberLeftPayload is broadcast by the hub when a member leaves, is
// kicked, or times out.
type MemberLeftPayload struct {
	GroupId  Id              `msgpack:"group_id"`
	NodeId   identity.NodeId `msgpack:"node_id"`
	Username string          `msgpack:"username"`
	Reason   LeaveReason     `msgpack:"reason"`
}

func NewMemberLeftPayload(p MemberLeftPayload) (Payload, error) { return encode(KindMemberLeft, p) }
func (p Payload) AsMemberLeft() (MemberLeftPayload, error) {
	var v MemberLeftPayload
	return v, p.decode(&v)
}

// DeliveryAckPayload is sent by a member acknowledging receipt of a
// message; the hub accepts it but takes no action (see DESIGN.md).
type DeliveryAckPayload struct {
	GroupId   Id `msgpack:"group_id"`
	MessageId [16]byte `msgpack:"message_id"`
}

func NewDeliveryAckPayload(p DeliveryAckPayload) (Payload, error) { return encode(KindDeliveryAck, p) }
func (p Payload) AsDeliveryAck() (DeliveryAckPayload, error) {
	var v DeliveryAckPayload
	return v, p.decode(&v)
}

// HubMigrationPayload tells members the group's hub has changed.
type HubMigrationPayload struct {
	GroupId   Id              `msgpack:"group_id"`
	NewHubId  identity.NodeId `msgpack:"new_hub_id"`
}

func NewHubMigrationPayload(p HubMigrationPayload) (Payload, error) { return encode(KindHubMigration, p) }
func (p Payload) AsHubMigration() (HubMigrationPayload, error) {
	var v HubMigrationPayload
	return v, p.decode(&v)
}

// HubHeartbeatPayload is broadcast periodically by the hub to prove
// liveness to members.
type HubHeartbeatPayload struct {
	GroupId      Id  `msgpack:"group_id"`
	MemberCount  int `msgpack:"member_count"`
}

func NewHubHeartbeatPayload(p HubHeartbeatPayload) (Payload, error) { return encode(KindHubHeartbeat, p) }
func (p Payload) AsHubHeartbeat() (HubHeartbeatPayload, error) {
	var v HubHeartbeatPayload
	return v, p.decode(&v)
}

// SenderKeyDistributionPayload fans out a member's new sender key
// epoch, 1:1-encrypted per recipient.
type SenderKeyDistributionPayload struct {
	GroupId        Id                   `msgpack:"group_id"`
	Epoch          uint64               `msgpack:"epoch"`
	EncryptedKeys  []EncryptedSenderKey `msgpack:"encrypted_keys"`
}

func NewSenderKeyDistributionPayload(p SenderKeyDistributionPayload) (Payload, error) {
	return encode(KindSenderKeyDistribution, p)
}
func (p Payload) AsSenderKeyDistribution() (SenderKeyDistributionPayload, error) {
	var v SenderKeyDistributionPayload
	return v, p.decode(&v)
}

// HubPingPayload is the shadow/candidate watchdog's liveness probe to
// the hub.
type HubPingPayload struct {
	GroupId Id `msgpack:"group_id"`
}

func NewHubPingPayload(p HubPingPayload) (Payload, error) { return encode(KindHubPing, p) }
func (p Payload) AsHubPing() (HubPingPayload, error) {
	var v HubPingPayload
	return v, p.decode(&v)
}

// HubPongPayload is the hub's reply to a HubPing.
type HubPongPayload struct {
	GroupId Id `msgpack:"group_id"`
}

func NewHubPongPayload(p HubPongPayload) (Payload, error) { return encode(KindHubPong, p) }
func (p Payload) AsHubPong() (HubPongPayload, error) {
	var v HubPongPayload
	return v, p.decode(&v)
}

// HubShadowSyncPayload brings the shadow up to date on the current
// membership and config, so it can take over instantly on failover.
type HubShadowSyncPayload struct {
	GroupId       Id                `msgpack:"group_id"`
	Members       []Member          `msgpack:"members"`
	CandidateId   *identity.NodeId  `msgpack:"candidate_id,omitempty"`
	ConfigVersion int64             `msgpack:"config_version"`
}

func NewHubShadowSyncPayload(p HubShadowSyncPayload) (Payload, error) { return encode(KindHubShadowSync, p) }
func (p Payload) AsHubShadowSync() (HubShadowSyncPayload, error) {
	var v HubShadowSyncPayload
	return v, p.decode(&v)
}

// CandidateAssignedPayload tells a member it is now the second-in-line
// failover candidate for a group.
type CandidateAssignedPayload struct {
	GroupId Id `msgpack:"group_id"`
}

func NewCandidateAssignedPayload(p CandidateAssignedPayload) (Payload, error) {
	return encode(KindCandidateAssigned, p)
}
func (p Payload) AsCandidateAssigned() (CandidateAssignedPayload, error) {
	var v CandidateAssignedPayload
	return v, p.decode(&v)
}

// HubUnreachablePayload is raised by a shadow/candidate watchdog when
// the hub fails its ping threshold.
type HubUnreachablePayload struct {
	GroupId Id              `msgpack:"group_id"`
	HubId   identity.NodeId `msgpack:"hub_id"`
}

func NewHubUnreachablePayload(p HubUnreachablePayload) (Payload, error) {
	return encode(KindHubUnreachable, p)
}
func (p Payload) AsHubUnreachable() (HubUnreachablePayload, error) {
	var v HubUnreachablePayload
	return v, p.decode(&v)
}
