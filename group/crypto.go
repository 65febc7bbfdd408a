package group

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tom-x-project/tom/identity"
)

// NewEncryptedMessage builds a group message whose text is sealed under
// the group's current sender key rather than sent in the clear. key
// must be the sender's own current SenderKeyEntry.
func NewEncryptedMessage(groupID Id, sender identity.NodeId, senderUsername, text string, key SenderKeyEntry) (*Message, error) {
	aead, err := chacha20poly1305.NewX(key.Key[:])
	if err != nil {
		return nil, fmt.Errorf("group: init aead: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("group: generate nonce: %w", err)
	}

	plaintext, err := (&Content{Username: senderUsername, Text: text}).marshal()
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce[:], plaintext, nil)

	return &Message{
		GroupId:        groupID,
		MessageId:      uuid.New(),
		SenderId:       sender,
		SenderUsername: senderUsername,
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		KeyEpoch:       key.Epoch,
		Encrypted:      true,
		SentAtMs:       time.Now().UnixMilli(),
	}, nil
}

// Decrypt opens an encrypted Message's content using key, which must
// match the message's KeyEpoch.
func (m *Message) Decrypt(key SenderKeyEntry) (*Content, error) {
	if !m.Encrypted {
		return &Content{Username: m.SenderUsername, Text: m.Text}, nil
	}
	if key.Epoch != m.KeyEpoch {
		return nil, fmt.Errorf("group: sender key epoch mismatch (message epoch %d, have %d)", m.KeyEpoch, key.Epoch)
	}
	aead, err := chacha20poly1305.NewX(key.Key[:])
	if err != nil {
		return nil, fmt.Errorf("group: init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, m.Nonce[:], m.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("group: decrypt message: %w", err)
	}
	return unmarshalContent(plaintext)
}
