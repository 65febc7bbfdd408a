// Package runtime integrates every protocol module into one live event
// loop: it owns the router, topology, tracker, heartbeat, subnet, role,
// backup, and group state, and exposes a channel-based API so the
// application never touches raw envelope bytes or protocol internals.
// Grounded on original_source's runtime/{mod,loop,state}.rs, translated
// from tokio mpsc/oneshot/broadcast channels and a single async task to
// Go channels, goroutines, and context.Context cancellation.
package runtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/tom-x-project/tom/group"
	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/relay"
	"github.com/tom-x-project/tom/tracker"
	"github.com/tom-x-project/tom/transport"
)

// Config is the runtime's tunable behavior.
type Config struct {
	Encryption                bool
	CacheCleanupInterval      time.Duration
	HeartbeatInterval         time.Duration
	TrackerCleanupInterval    time.Duration
	Username                  string
	GroupHubHeartbeatInterval time.Duration
	BackupTickInterval        time.Duration
	GossipAnnounceInterval    time.Duration
	GossipBootstrapPeers      []identity.NodeId
}

// DefaultConfig matches original_source's RuntimeConfig::default.
func DefaultConfig() Config {
	return Config{
		Encryption:                true,
		CacheCleanupInterval:      300 * time.Second,
		HeartbeatInterval:         5 * time.Second,
		TrackerCleanupInterval:    300 * time.Second,
		Username:                  "anonymous",
		GroupHubHeartbeatInterval: 30 * time.Second,
		BackupTickInterval:        60 * time.Second,
		GossipAnnounceInterval:    10 * time.Second,
	}
}

// Command is the closed set of requests the application may send to a
// running runtime.
type Command interface{ isCommand() }

type SendMessage struct {
	To      identity.NodeId
	Payload []byte
}

type SendReadReceipt struct {
	To                identity.NodeId
	OriginalMessageId uuid.UUID
}

type AddPeer struct{ NodeId identity.NodeId }

type UpsertPeer struct{ Info relay.PeerInfo }

type RemovePeer struct{ NodeId identity.NodeId }

type GetConnectedPeers struct{ Reply chan<- []identity.NodeId }

type CreateGroup struct {
	Name           string
	HubRelayId     identity.NodeId
	InitialMembers []identity.NodeId
}

type AcceptInvite struct{ GroupId group.Id }

type DeclineInvite struct{ GroupId group.Id }

type LeaveGroup struct{ GroupId group.Id }

type SendGroupMessage struct {
	GroupId group.Id
	Text    string
}

type GetGroups struct{ Reply chan<- []group.Info }

type GetPendingInvites struct{ Reply chan<- []group.Invite }

type Shutdown struct{}

func (SendMessage) isCommand()       {}
func (SendReadReceipt) isCommand()   {}
func (AddPeer) isCommand()           {}
func (UpsertPeer) isCommand()        {}
func (RemovePeer) isCommand()        {}
func (GetConnectedPeers) isCommand() {}
func (CreateGroup) isCommand()       {}
func (AcceptInvite) isCommand()      {}
func (DeclineInvite) isCommand()     {}
func (LeaveGroup) isCommand()        {}
func (SendGroupMessage) isCommand()  {}
func (GetGroups) isCommand()         {}
func (GetPendingInvites) isCommand() {}
func (Shutdown) isCommand()          {}

// DeliveredMessage is a decrypted, verified message handed to the
// application.
type DeliveredMessage struct {
	From            identity.NodeId
	Payload         []byte
	EnvelopeId      uuid.UUID
	TimestampMs     int64
	SignatureValid  bool
	WasEncrypted    bool
}

// Event is the closed set of protocol-level notifications the runtime
// surfaces to the application.
type Event interface{ isEvent() }

type PeerDiscovered struct{ NodeId identity.NodeId }
type PeerOffline struct{ NodeId identity.NodeId }
type MessageRejected struct{ Reason string }
type Forwarded struct {
	EnvelopeId uuid.UUID
	NextHop    identity.NodeId
}
type PathChanged struct{ Event transport.PathEvent }
type RuntimeError struct{ Description string }

type GroupCreated struct{ Group group.Info }
type GroupInviteReceived struct{ Invite group.Invite }
type GroupJoined struct {
	GroupId   group.Id
	GroupName string
}
type GroupMemberJoined struct {
	GroupId group.Id
	Member  group.Member
}
type GroupMemberLeft struct {
	GroupId  group.Id
	NodeId   identity.NodeId
	Username string
	Reason   group.LeaveReason
}
type GroupMessageReceived struct{ Message group.Message }
type GroupHubMigrated struct {
	GroupId  group.Id
	NewHubId identity.NodeId
}
type GroupSecurityViolation struct {
	GroupId group.Id
	NodeId  identity.NodeId
	Reason  string
}

type PeerAnnounceReceived struct {
	NodeId   identity.NodeId
	Username string
}

type SubnetFormed struct {
	SubnetId string
	Members  []identity.NodeId
}
type SubnetDissolved struct {
	SubnetId string
	Reason   string
}

type RolePromoted struct {
	NodeId identity.NodeId
	Score  float64
}
type RoleDemoted struct {
	NodeId identity.NodeId
	Score  float64
}

type BackupStored struct {
	MessageId   uuid.UUID
	RecipientId identity.NodeId
}
type BackupDelivered struct {
	MessageId   uuid.UUID
	RecipientId identity.NodeId
}
type BackupExpired struct {
	MessageId   uuid.UUID
	RecipientId identity.NodeId
}

func (PeerDiscovered) isEvent()          {}
func (PeerOffline) isEvent()             {}
func (MessageRejected) isEvent()         {}
func (Forwarded) isEvent()               {}
func (PathChanged) isEvent()             {}
func (RuntimeError) isEvent()            {}
func (GroupCreated) isEvent()            {}
func (GroupInviteReceived) isEvent()     {}
func (GroupJoined) isEvent()             {}
func (GroupMemberJoined) isEvent()       {}
func (GroupMemberLeft) isEvent()         {}
func (GroupMessageReceived) isEvent()    {}
func (GroupHubMigrated) isEvent()        {}
func (GroupSecurityViolation) isEvent()  {}
func (PeerAnnounceReceived) isEvent()    {}
func (SubnetFormed) isEvent()            {}
func (SubnetDissolved) isEvent()         {}
func (RolePromoted) isEvent()            {}
func (RoleDemoted) isEvent()             {}
func (BackupStored) isEvent()            {}
func (BackupDelivered) isEvent()         {}
func (BackupExpired) isEvent()           {}

// Handle is the application-facing API to a running runtime. Cheap to
// copy; every method is a non-blocking channel send except the
// query methods, which wait for a reply.
type Handle struct {
	cmd     chan<- Command
	localId identity.NodeId
}

// LocalId returns this node's identity.
func (h Handle) LocalId() identity.NodeId { return h.localId }

func (h Handle) SendMessage(to identity.NodeId, payload []byte) {
	h.cmd <- SendMessage{To: to, Payload: payload}
}

func (h Handle) SendReadReceipt(to identity.NodeId, originalMessageId uuid.UUID) {
	h.cmd <- SendReadReceipt{To: to, OriginalMessageId: originalMessageId}
}

func (h Handle) AddPeer(id identity.NodeId) { h.cmd <- AddPeer{NodeId: id} }

func (h Handle) UpsertPeer(info relay.PeerInfo) { h.cmd <- UpsertPeer{Info: info} }

func (h Handle) RemovePeer(id identity.NodeId) { h.cmd <- RemovePeer{NodeId: id} }

func (h Handle) ConnectedPeers() []identity.NodeId {
	reply := make(chan []identity.NodeId, 1)
	h.cmd <- GetConnectedPeers{Reply: reply}
	return <-reply
}

func (h Handle) CreateGroup(name string, hubRelayId identity.NodeId, initialMembers []identity.NodeId) {
	h.cmd <- CreateGroup{Name: name, HubRelayId: hubRelayId, InitialMembers: initialMembers}
}

func (h Handle) AcceptInvite(groupId group.Id) { h.cmd <- AcceptInvite{GroupId: groupId} }

func (h Handle) DeclineInvite(groupId group.Id) { h.cmd <- DeclineInvite{GroupId: groupId} }

func (h Handle) LeaveGroup(groupId group.Id) { h.cmd <- LeaveGroup{GroupId: groupId} }

func (h Handle) SendGroupMessage(groupId group.Id, text string) {
	h.cmd <- SendGroupMessage{GroupId: groupId, Text: text}
}

func (h Handle) Groups() []group.Info {
	reply := make(chan []group.Info, 1)
	h.cmd <- GetGroups{Reply: reply}
	return <-reply
}

func (h Handle) PendingInvites() []group.Invite {
	reply := make(chan []group.Invite, 1)
	h.cmd <- GetPendingInvites{Reply: reply}
	return <-reply
}

func (h Handle) Shutdown() { h.cmd <- Shutdown{} }

// Channels is returned to the application when the runtime starts.
type Channels struct {
	Handle        Handle
	Messages      <-chan DeliveredMessage
	StatusChanges <-chan tracker.StatusChange
	Events        <-chan Event
}
