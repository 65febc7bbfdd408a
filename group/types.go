// Package group implements ToM's group chat subsystem (spec §4.9-4.11):
// a member-side GroupManager, a relay-side GroupHub, and hub election
// and failover. Grounded on original_source's
// group/{types,manager,hub,election}.rs.
package group

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/tomcrypto"
)

// Constants carried over from original_source/group/types.rs.
const (
	MaxGroupMembers = 50
	InviteTTL       = 24 * time.Hour
	HubHeartbeatInterval = 30 * time.Second
	HubFailureThreshold  = 3
	MaxSyncMessages      = 100
	GroupRateLimitPerSecond = 5

	ShadowPingInterval        = 3 * time.Second
	ShadowPingTimeout         = 2 * time.Second
	ShadowPingFailureThreshold = 2
	HubAckTimeout             = 3 * time.Second
	CandidateOrphanTimeout    = 30 * time.Second
)

// Id is a group identifier, rendered as "grp-<uuid>".
type Id string

// NewId mints a fresh group id.
func NewId() Id {
	return Id("grp-" + uuid.New().String())
}

// MemberRole is a member's standing within one group (distinct from a
// node's network-wide relay/member Role in package roles).
type MemberRole int

const (
	MemberRoleMember MemberRole = iota
	MemberRoleAdmin
)

// Member is one participant in a group.
type Member struct {
	NodeId   identity.NodeId `msgpack:"node_id"`
	Username string          `msgpack:"username"`
	JoinedAt int64           `msgpack:"joined_at"`
	Role     MemberRole      `msgpack:"role"`
}

// Info is a group's full membership and hub-routing record, held both
// by members (their local copy) and by the hub (the source of truth).
type Info struct {
	GroupId       Id              `msgpack:"group_id"`
	Name          string          `msgpack:"name"`
	HubRelayId    identity.NodeId `msgpack:"hub_relay_id"`
	BackupHubId   *identity.NodeId `msgpack:"backup_hub_id,omitempty"`
	Members       []Member        `msgpack:"members"`
	CreatedBy     identity.NodeId `msgpack:"created_by"`
	CreatedAt     int64           `msgpack:"created_at"`
	LastActivityAt int64          `msgpack:"last_activity_at"`
	MaxMembers    int             `msgpack:"max_members"`
	ShadowId      *identity.NodeId `msgpack:"shadow_id,omitempty"`
	CandidateId   *identity.NodeId `msgpack:"candidate_id,omitempty"`
}

// IsMember reports whether id is a current member.
func (g *Info) IsMember(id identity.NodeId) bool {
	_, ok := g.GetMember(id)
	return ok
}

// IsAdmin reports whether id is a current member with Admin role.
func (g *Info) IsAdmin(id identity.NodeId) bool {
	m, ok := g.GetMember(id)
	return ok && m.Role == MemberRoleAdmin
}

// GetMember looks up a member by id.
func (g *Info) GetMember(id identity.NodeId) (Member, bool) {
	for _, m := range g.Members {
		if m.NodeId == id {
			return m, true
		}
	}
	return Member{}, false
}

// MemberCount returns the current member count.
func (g *Info) MemberCount() int {
	return len(g.Members)
}

// IsFull reports whether the group is at MaxMembers capacity.
func (g *Info) IsFull() bool {
	return len(g.Members) >= g.MaxMembers
}

// Invite is a pending invitation to join a group, held by the invitee
// until accepted, declined, or it expires.
type Invite struct {
	GroupId         Id              `msgpack:"group_id"`
	GroupName       string          `msgpack:"group_name"`
	InviterId       identity.NodeId `msgpack:"inviter_id"`
	InviterUsername string          `msgpack:"inviter_username"`
	HubRelayId      identity.NodeId `msgpack:"hub_relay_id"`
	InvitedAtMs     int64           `msgpack:"invited_at"`
	ExpiresAtMs     int64           `msgpack:"expires_at"`
}

// IsExpired reports whether the invite has expired as of nowMs.
func (i *Invite) IsExpired(nowMs int64) bool {
	return nowMs >= i.ExpiresAtMs
}

// LeaveReason explains why a member left a group.
type LeaveReason int

const (
	LeaveVoluntary LeaveReason = iota
	LeaveKicked
	LeaveTimeout
)

// SenderKeyEntry is one epoch of a member's symmetric sender key, used
// for the optional encrypted group-message mode.
type SenderKeyEntry struct {
	OwnerId   identity.NodeId `msgpack:"owner_id"`
	Key       [32]byte        `msgpack:"key"`
	Epoch     uint64          `msgpack:"epoch"`
	CreatedAt int64           `msgpack:"created_at"`
}

// EncryptedSenderKey is one recipient's copy of a SenderKeyEntry,
// encrypted 1:1 via tomcrypto.
type EncryptedSenderKey struct {
	RecipientId  identity.NodeId          `msgpack:"recipient_id"`
	EncryptedKey tomcrypto.EncryptedPayload `msgpack:"encrypted_key"`
}

// Content is the plaintext shape carried inside an encrypted
// GroupMessage once decrypted.
type Content struct {
	Username string `msgpack:"username"`
	Text     string `msgpack:"text"`
}

func (c *Content) marshal() ([]byte, error) {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("group: marshal content: %w", err)
	}
	return b, nil
}

func unmarshalContent(b []byte) (*Content, error) {
	var c Content
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("group: unmarshal content: %w", err)
	}
	return &c, nil
}

// Message is one chat message sent within a group, always signed by
// its sender and optionally encrypted under the group's current
// sender key.
type Message struct {
	GroupId          Id              `msgpack:"group_id"`
	MessageId        uuid.UUID       `msgpack:"message_id"`
	SenderId         identity.NodeId `msgpack:"sender_id"`
	SenderUsername   string          `msgpack:"sender_username"`
	Text             string          `msgpack:"text"`
	Ciphertext       []byte          `msgpack:"ciphertext,omitempty"`
	Nonce            [24]byte        `msgpack:"nonce,omitempty"`
	KeyEpoch         uint64          `msgpack:"key_epoch"`
	Encrypted        bool            `msgpack:"encrypted"`
	SentAtMs         int64           `msgpack:"sent_at"`
	SenderSignature  []byte          `msgpack:"sender_signature,omitempty"`
}

// NewMessage builds a plaintext group message.
func NewMessage(groupID Id, sender identity.NodeId, senderUsername, text string) *Message {
	return &Message{
		GroupId:        groupID,
		MessageId:      uuid.New(),
		SenderId:       sender,
		SenderUsername: senderUsername,
		Text:           text,
		SentAtMs:       time.Now().UnixMilli(),
	}
}

// SigningBytes is the deterministic projection signed by the sender:
// group id, message id, sender id, then either the plaintext text or
// the ciphertext+nonce+key epoch (depending on Encrypted), then the
// send timestamp.
func (m *Message) SigningBytes() []byte {
	var buf []byte
	buf = append(buf, []byte(m.GroupId)...)
	idBytes, _ := m.MessageId.MarshalBinary()
	buf = append(buf, idBytes...)
	buf = append(buf, m.SenderId.Bytes()...)
	if m.Encrypted {
		buf = append(buf, m.Ciphertext...)
		buf = append(buf, m.Nonce[:]...)
		buf = appendUint64LE(buf, m.KeyEpoch)
	} else {
		buf = append(buf, []byte(m.Text)...)
	}
	buf = appendInt64LE(buf, m.SentAtMs)
	return buf
}

// Sign attaches the sender's Ed25519 signature over SigningBytes.
func (m *Message) Sign(kp *identity.KeyPair) {
	m.SenderSignature = kp.Sign(m.SigningBytes())
}

// VerifySignature checks the attached signature against SenderId.
func (m *Message) VerifySignature() bool {
	if len(m.SenderSignature) == 0 {
		return false
	}
	return identity.VerifySignature(m.SenderId, m.SigningBytes(), m.SenderSignature)
}

// IsSigned reports whether a signature is present (not whether it is
// valid).
func (m *Message) IsSigned() bool {
	return len(m.SenderSignature) > 0
}

func appendUint64LE(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v))
		v >>= 8
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

// Marshal/Unmarshal are convenience msgpack helpers used by the hub and
// manager when persisting or replaying a Message independent of its
// enclosing envelope.
func (m *Message) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("group: marshal message: %w", err)
	}
	return b, nil
}
