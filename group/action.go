package group

import "github.com/tom-x-project/tom/identity"

// Action is the effect type returned by both Manager and Hub methods,
// matching the pure state-machine-plus-effect-list shape used
// throughout the rest of the module (router.Action, backup.Action).
type Action interface{ isGroupAction() }

// Send asks the runtime to deliver payload to a single recipient.
type Send struct {
	To      identity.NodeId
	Payload Payload
}

// Broadcast asks the runtime to deliver payload to every recipient in
// To.
type Broadcast struct {
	To      []identity.NodeId
	Payload Payload
}

// Event asks the runtime to surface a group-related ProtocolEvent to
// the application.
type Event struct {
	Kind EventKind
	// Only the fields relevant to Kind are populated (for example
	// GroupId and Member for EventMemberJoined).
	Group           *Info
	Invite          *Invite
	GroupId         Id
	Member          *Member
	LeftNodeId      identity.NodeId
	LeftUsername    string
	LeaveReason     LeaveReason
	Message         *Message
	NewHubId        identity.NodeId
	ViolationNodeId identity.NodeId
	ViolationReason string
}

func (Send) isGroupAction()      {}
func (Broadcast) isGroupAction() {}
func (Event) isGroupAction()     {}

// EventKind is the closed set of group-related events the runtime can
// surface to the application as a ProtocolEvent.
type EventKind int

const (
	EventGroupCreated EventKind = iota
	EventInviteReceived
	EventJoined
	EventMemberJoined
	EventMemberLeft
	EventMessageReceived
	EventHubMigrated
	EventSecurityViolation
)

// None is the explicit "do nothing" result, used instead of an empty
// slice literal at call sites for readability.
var None []Action
