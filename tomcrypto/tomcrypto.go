// Package tomcrypto implements ToM's per-message end-to-end encryption:
// an X25519 Diffie-Hellman between a fresh ephemeral key and a key
// derived from the recipient's Ed25519 identity, HKDF-SHA256 key
// derivation, and XChaCha20-Poly1305 for the AEAD itself.
//
// The Edwards-to-Montgomery conversion and the overall
// convert-derive-seal pipeline shape follow crypto/keys/x25519.go's
// Ed25519-peer encryption path; the concrete algorithm choices (raw DH
// with no secret hashing, HKDF with a fixed info string and no salt,
// XChaCha20-Poly1305 rather than AES-GCM or HPKE) are ToM's own.
package tomcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/tom-x-project/tom/identity"
)

// hkdfInfo is the fixed HKDF context string for ToM's e2e scheme. Any
// change to the algorithm must change this string to avoid silently
// reusing keys under a different derivation.
const hkdfInfo = "tom-protocol-e2e-xchacha20poly1305-v1"

var (
	// ErrInvalidPeer is returned when a NodeId cannot be converted to a
	// valid X25519 point (e.g. it is a low-order or identity point).
	ErrInvalidPeer = errors.New("tomcrypto: invalid peer public key")
	// ErrDecryptionFailed covers any AEAD open failure: wrong key,
	// tampered ciphertext, or tampered associated data.
	ErrDecryptionFailed = errors.New("tomcrypto: decryption failed")
)

// EncryptedPayload is the wire representation of an encrypted message
// body: the sender's ephemeral X25519 public key, the AEAD nonce, and
// the sealed ciphertext (which includes the Poly1305 tag).
type EncryptedPayload struct {
	EphemeralPublicKey [32]byte `msgpack:"ephemeral_public_key"`
	Nonce              [24]byte `msgpack:"nonce"`
	Ciphertext         []byte   `msgpack:"ciphertext"`
}

// Encrypt seals plaintext for recipient, authenticated (as additional
// data) against associatedData — typically the envelope's signing bytes
// minus the payload itself, binding the ciphertext to its envelope.
//
// A fresh ephemeral X25519 keypair is generated per call; ToM never
// reuses an ephemeral key across messages.
func Encrypt(recipient identity.NodeId, plaintext, associatedData []byte) (*EncryptedPayload, error) {
	recipientX, err := edPublicToX25519(recipient.PublicKey())
	if err != nil {
		return nil, err
	}

	var ephPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return nil, fmt.Errorf("tomcrypto: generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("tomcrypto: derive ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephPriv[:], recipientX)
	if err != nil {
		return nil, fmt.Errorf("tomcrypto: x25519: %w", err)
	}
	if isAllZero(shared) {
		return nil, ErrInvalidPeer
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tomcrypto: init aead: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("tomcrypto: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce[:], plaintext, associatedData)

	out := &EncryptedPayload{Nonce: nonce, Ciphertext: ciphertext}
	copy(out.EphemeralPublicKey[:], ephPub)
	return out, nil
}

// Decrypt opens a payload addressed to the holder of recipientSeed.
func Decrypt(recipientSeed identity.SecretSeed, payload *EncryptedPayload, associatedData []byte) ([]byte, error) {
	recipientX, err := edSeedToX25519(recipientSeed)
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(recipientX, payload.EphemeralPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("tomcrypto: x25519: %w", err)
	}
	if isAllZero(shared) {
		return nil, ErrInvalidPeer
	}

	key, err := deriveKey(shared)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tomcrypto: init aead: %w", err)
	}

	plaintext, err := aead.Open(nil, payload.Nonce[:], payload.Ciphertext, associatedData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// deriveKey runs HKDF-SHA256 over the raw DH output with no salt
// (salt = nil, per spec) and ToM's fixed info string, producing a
// 32-byte XChaCha20-Poly1305 key.
func deriveKey(sharedSecret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, sharedSecret, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("tomcrypto: hkdf expand: %w", err)
	}
	return key, nil
}

// edPublicToX25519 converts an Ed25519 public key to its birationally
// equivalent X25519 (Montgomery) public key, exactly as
// crypto/keys/x25519.go's convertEd25519PubToX25519 does.
func edPublicToX25519(edPub []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeer, err)
	}
	return p.BytesMontgomery(), nil
}

// edSeedToX25519 converts an Ed25519 seed to its corresponding X25519
// scalar, exactly as crypto/keys/x25519.go's convertEd25519PrivToX25519
// does: SHA-512 the seed, clamp the low 32 bytes.
func edSeedToX25519(seed identity.SecretSeed) ([]byte, error) {
	h := sha512.Sum512(seed.Bytes())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	out := make([]byte, 32)
	copy(out, h[:32])
	return out, nil
}

func isAllZero(b []byte) bool {
	var v byte
	for _, c := range b {
		v |= c
	}
	return v == 0
}
