package envelope

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tom-x-project/tom/identity"
	"github.com/tom-x-project/tom/tomcrypto"
)

// EncryptedPayload is the msgpack-encoded form carried in Envelope.Payload
// when Encrypted is true, wrapping tomcrypto's sealed output.
type EncryptedPayload = tomcrypto.EncryptedPayload

// AckType distinguishes a relay's forwarding acknowledgement from the
// final recipient's delivery acknowledgement, so the sender's tracker
// can advance through Relayed before it ever reaches Delivered.
type AckType uint8

const (
	AckRelayForwarded AckType = iota
	AckRecipientReceived
)

func (t AckType) String() string {
	switch t {
	case AckRelayForwarded:
		return "relay_forwarded"
	case AckRecipientReceived:
		return "recipient_received"
	default:
		return "unknown"
	}
}

// AckPayload acknowledges receipt of a specific envelope at the
// transport level (distinct from the user-visible ReadReceiptPayload).
type AckPayload struct {
	OriginalMessageID uuid.UUID `msgpack:"original_message_id"`
	AckType           AckType   `msgpack:"ack_type"`
}

// ReadReceiptPayload informs the original sender that a chat message has
// been read by the recipient.
type ReadReceiptPayload struct {
	OriginalMessageID uuid.UUID `msgpack:"original_message_id"`
	ReadAtMs          int64     `msgpack:"read_at"`
}

// ReplicationPayload carries a message being deposited at, or recovered
// from, a store-and-forward backup relay (spec §4.8).
type ReplicationPayload struct {
	MessageID   uuid.UUID       `msgpack:"message_id"`
	RecipientID identity.NodeId `msgpack:"recipient_id"`
	Envelope    []byte          `msgpack:"envelope"` // the full marshaled Envelope being held
	ExpiresAtMs int64           `msgpack:"expires_at"`
}

// EncodePayload msgpack-encodes v for placement into Envelope.Payload.
func EncodePayload(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload decodes an Envelope.Payload into v, a pointer to one of
// the payload types above (selected by the envelope's MsgType).
func DecodePayload(payload []byte, v interface{}) error {
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("envelope: decode payload: %w", err)
	}
	return nil
}
