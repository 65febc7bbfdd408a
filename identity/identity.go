// Package identity implements ToM's node identity: a bare Ed25519 keypair
// whose public key doubles as the node's address on the wire.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when a byte slice does not match the
// expected 32-byte Ed25519 key size.
var ErrInvalidLength = errors.New("identity: expected 32 bytes")

// NodeId is a node's Ed25519 public key. It is both the node's
// cryptographic identity and its address: there is no separate addressing
// scheme layered on top.
type NodeId [32]byte

// NodeIdFromBytes validates and wraps a 32-byte public key.
func NodeIdFromBytes(b []byte) (NodeId, error) {
	var id NodeId
	if len(b) != 32 {
		return id, ErrInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

// NodeIdFromHex parses a hex-encoded NodeId, as produced by String.
func NodeIdFromHex(s string) (NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("identity: decode hex: %w", err)
	}
	return NodeIdFromBytes(b)
}

// Bytes returns the raw 32-byte public key.
func (n NodeId) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, n[:])
	return out
}

// String renders the NodeId as lowercase hex.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:])
}

// PublicKey returns the NodeId as a stdlib Ed25519 public key, the form
// required by ed25519.Verify and the X25519 conversion helpers.
func (n NodeId) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(n.Bytes())
}

// IsZero reports whether the NodeId is the all-zero value, used as a
// sentinel for "no node" in optional fields.
func (n NodeId) IsZero() bool {
	return n == NodeId{}
}

// MarshalBinary implements encoding.BinaryMarshaler so wire codecs (e.g.
// msgpack) encode a NodeId as a compact 32-byte binary value instead of
// an array of integers.
func (n NodeId) MarshalBinary() ([]byte, error) {
	return n.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (n *NodeId) UnmarshalBinary(data []byte) error {
	id, err := NodeIdFromBytes(data)
	if err != nil {
		return err
	}
	*n = id
	return nil
}

// SecretSeed is the 32-byte Ed25519 seed from which a KeyPair is derived.
// It is the only secret a node must persist to keep its identity.
type SecretSeed [32]byte

// SecretSeedFromBytes validates and wraps a 32-byte seed.
func SecretSeedFromBytes(b []byte) (SecretSeed, error) {
	var s SecretSeed
	if len(b) != 32 {
		return s, ErrInvalidLength
	}
	copy(s[:], b)
	return s, nil
}

// Bytes returns the raw 32-byte seed.
func (s SecretSeed) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, s[:])
	return out
}

// KeyPair is a node's Ed25519 identity: a seed plus its derived keys.
type KeyPair struct {
	seed SecretSeed
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a fresh random identity.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	seed, err := SecretSeedFromBytes(priv.Seed())
	if err != nil {
		return nil, err
	}
	return &KeyPair{seed: seed, priv: priv, pub: pub}, nil
}

// FromSeed deterministically reconstructs a KeyPair from a saved seed.
func FromSeed(seed SecretSeed) (*KeyPair, error) {
	priv := ed25519.NewKeyFromSeed(seed.Bytes())
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("identity: unexpected public key type")
	}
	return &KeyPair{seed: seed, priv: priv, pub: pub}, nil
}

// NodeId returns the public identity derived from this keypair.
func (kp *KeyPair) NodeId() NodeId {
	id, _ := NodeIdFromBytes(kp.pub)
	return id
}

// Seed returns the secret seed. Callers persisting identity across
// restarts must store this value, and only this value.
func (kp *KeyPair) Seed() SecretSeed {
	return kp.seed
}

// PrivateKey exposes the raw Ed25519 private key for signing integrations
// that need the stdlib type directly (e.g. group message signing).
func (kp *KeyPair) PrivateKey() ed25519.PrivateKey {
	return kp.priv
}

// Sign produces a detached Ed25519 signature over msg.
func (kp *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(kp.priv, msg)
}

// VerifySignature checks a detached Ed25519 signature against the
// identity named by id.
func VerifySignature(id NodeId, msg, sig []byte) bool {
	return ed25519.Verify(id.PublicKey(), msg, sig)
}
