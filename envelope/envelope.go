// Package envelope defines ToM's wire message: a signed, optionally
// encrypted container routed hop-by-hop between nodes, serialized as
// MessagePack. It mirrors original_source's envelope.rs field-for-field
// and core/message/types.go's header-plus-body shape.
package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/internal/metrics"
	"github.com/tom-x-project/tom/tomcrypto"
)

// MaxViaDepth bounds the relay chain recorded in Via: a message that has
// already bounced through this many relays is dropped rather than
// forwarded again (spec §4.2).
const MaxViaDepth = 4

// MsgType is the closed set of envelope payload kinds. New kinds require
// a new constant here; there is no open extension point on the wire.
type MsgType uint8

const (
	MsgTypeChat MsgType = iota
	MsgTypeAck
	MsgTypeReadReceipt
	MsgTypeReplication
	MsgTypeGroup
	MsgTypeHeartbeat
	MsgTypePeerAnnounce
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeChat:
		return "chat"
	case MsgTypeAck:
		return "ack"
	case MsgTypeReadReceipt:
		return "read_receipt"
	case MsgTypeReplication:
		return "replication"
	case MsgTypeGroup:
		return "group"
	case MsgTypeHeartbeat:
		return "heartbeat"
	case MsgTypePeerAnnounce:
		return "peer_announce"
	default:
		return "unknown"
	}
}

var (
	// ErrUnsigned is returned when Verify is called on an envelope with
	// no signature set.
	ErrUnsigned = errors.New("envelope: unsigned")
	// ErrViaTooDeep is returned when a relay chain would exceed
	// MaxViaDepth.
	ErrViaTooDeep = errors.New("envelope: via chain exceeds max depth")
)

// Envelope is the unit of transport between two ToM nodes, forwarded
// as-is by any relay named in Via.
type Envelope struct {
	ID         uuid.UUID         `msgpack:"id"`
	From       identity.NodeId   `msgpack:"from"`
	To         identity.NodeId   `msgpack:"to"`
	Via        []identity.NodeId `msgpack:"via"`
	MsgType    MsgType           `msgpack:"msg_type"`
	Payload    []byte            `msgpack:"payload"`
	TimestampMs int64            `msgpack:"timestamp"`
	TTL        uint32            `msgpack:"ttl"`
	Encrypted  bool              `msgpack:"encrypted"`
	Signature  []byte            `msgpack:"signature"`
}

// signable is the deterministic projection of an Envelope used for
// signing and verification: every field except Signature itself, in a
// fixed order, encoded as a msgpack array (not a map) so that field
// renames or added msgpack options never change the signed bytes.
type signable struct {
	_msgpack    struct{} `msgpack:",asArray"`
	ID          uuid.UUID
	From        identity.NodeId
	To          identity.NodeId
	Via         []identity.NodeId
	MsgType     MsgType
	Payload     []byte
	TimestampMs int64
	TTL         uint32
	Encrypted   bool
}

// New builds an unsigned envelope with a fresh id and the given ttl.
func New(from, to identity.NodeId, msgType MsgType, payload []byte, ttl uint32, encrypted bool) *Envelope {
	return &Envelope{
		ID:          uuid.New(),
		From:        from,
		To:          to,
		Via:         nil,
		MsgType:     msgType,
		Payload:     payload,
		TimestampMs: time.Now().UnixMilli(),
		TTL:         ttl,
		Encrypted:   encrypted,
	}
}

// SigningBytes produces the canonical byte sequence that Sign/Verify
// operate over: every envelope field except Signature.
func (e *Envelope) SigningBytes() ([]byte, error) {
	s := signable{
		ID:          e.ID,
		From:        e.From,
		To:          e.To,
		Via:         e.Via,
		MsgType:     e.MsgType,
		Payload:     e.Payload,
		TimestampMs: e.TimestampMs,
		TTL:         e.TTL,
		Encrypted:   e.Encrypted,
	}
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal signing bytes: %w", err)
	}
	return b, nil
}

// Sign computes and attaches the sender's Ed25519 signature.
func (e *Envelope) Sign(kp *identity.KeyPair) error {
	start := time.Now()
	b, err := e.SigningBytes()
	if err != nil {
		return err
	}
	e.Signature = kp.Sign(b)
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("sign", "ed25519").Observe(time.Since(start).Seconds())
	return nil
}

// Verify checks the signature against From. An envelope with no
// signature is always rejected.
func (e *Envelope) Verify() error {
	start := time.Now()
	if len(e.Signature) == 0 {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return ErrUnsigned
	}
	b, err := e.SigningBytes()
	if err != nil {
		return err
	}
	ok := identity.VerifySignature(e.From, b, e.Signature)
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("verify", "ed25519").Observe(time.Since(start).Seconds())
	if !ok {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return fmt.Errorf("envelope: signature does not verify against from")
	}
	return nil
}

// WithHop appends relayer to Via, returning ErrViaTooDeep once the chain
// would exceed MaxViaDepth and decrementing TTL by one hop.
func (e *Envelope) WithHop(relayer identity.NodeId) error {
	if len(e.Via) >= MaxViaDepth {
		return ErrViaTooDeep
	}
	e.Via = append(e.Via, relayer)
	if e.TTL > 0 {
		e.TTL--
	}
	return nil
}

// associatedData is the header projection bound to an encrypted
// payload as AEAD associated data: every field except Payload and
// Signature, which are exactly what encryption and signing protect.
func (e *Envelope) associatedData() ([]byte, error) {
	type header struct {
		_msgpack    struct{} `msgpack:",asArray"`
		ID          uuid.UUID
		From        identity.NodeId
		To          identity.NodeId
		Via         []identity.NodeId
		MsgType     MsgType
		TimestampMs int64
		TTL         uint32
		Encrypted   bool
	}
	b, err := msgpack.Marshal(&header{
		ID:          e.ID,
		From:        e.From,
		To:          e.To,
		Via:         e.Via,
		MsgType:     e.MsgType,
		TimestampMs: e.TimestampMs,
		TTL:         e.TTL,
		Encrypted:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal associated data: %w", err)
	}
	return b, nil
}

// EncryptPayload seals plaintext for To under tomcrypto and replaces
// Payload with the msgpack-encoded EncryptedPayload, setting Encrypted.
// Must be called before Sign.
func (e *Envelope) EncryptPayload(plaintext []byte) error {
	start := time.Now()
	e.Encrypted = true
	ad, err := e.associatedData()
	if err != nil {
		return err
	}
	enc, err := tomcrypto.Encrypt(e.To, plaintext, ad)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return fmt.Errorf("envelope: encrypt payload: %w", err)
	}
	b, err := msgpack.Marshal(enc)
	if err != nil {
		return fmt.Errorf("envelope: marshal encrypted payload: %w", err)
	}
	e.Payload = b
	metrics.CryptoOperations.WithLabelValues("encrypt", "xchacha20poly1305").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("encrypt", "xchacha20poly1305").Observe(time.Since(start).Seconds())
	return nil
}

// DecryptPayload opens Payload in place using recipientSeed, the
// holder of which must be To. Call only when Encrypted is true and
// after Verify has succeeded.
func (e *Envelope) DecryptPayload(recipientSeed identity.SecretSeed) error {
	start := time.Now()
	var enc tomcrypto.EncryptedPayload
	if err := msgpack.Unmarshal(e.Payload, &enc); err != nil {
		return fmt.Errorf("envelope: unmarshal encrypted payload: %w", err)
	}
	ad, err := e.associatedData()
	if err != nil {
		return err
	}
	plaintext, err := tomcrypto.Decrypt(recipientSeed, &enc, ad)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return fmt.Errorf("envelope: decrypt payload: %w", err)
	}
	e.Payload = plaintext
	e.Encrypted = false
	metrics.CryptoOperations.WithLabelValues("decrypt", "xchacha20poly1305").Inc()
	metrics.CryptoOperationDuration.WithLabelValues("decrypt", "xchacha20poly1305").Observe(time.Since(start).Seconds())
	return nil
}

// Marshal serializes the full envelope, signature included, for
// transport.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}
	return b, nil
}

// Unmarshal parses a wire-format envelope.
func Unmarshal(b []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	return &e, nil
}
