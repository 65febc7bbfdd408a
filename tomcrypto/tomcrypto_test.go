package tomcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	plaintext := []byte("the eagle lands at midnight")
	aad := []byte("envelope-signing-bytes")

	payload, err := Encrypt(recipient.NodeId(), plaintext, aad)
	require.NoError(t, err)
	assert.NotEmpty(t, payload.Ciphertext)

	_ = sender // sender identity isn't part of the DH in this scheme; kept for test symmetry

	got, err := Decrypt(recipient.Seed(), payload, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptFailsForWrongRecipient(t *testing.T) {
	recipient, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	payload, err := Encrypt(recipient.NodeId(), []byte("secret"), nil)
	require.NoError(t, err)

	_, err = Decrypt(other.Seed(), payload, nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptFailsWithMismatchedAssociatedData(t *testing.T) {
	recipient, err := identity.Generate()
	require.NoError(t, err)

	payload, err := Encrypt(recipient.NodeId(), []byte("secret"), []byte("aad-1"))
	require.NoError(t, err)

	_, err = Decrypt(recipient.Seed(), payload, []byte("aad-2"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEphemeralKeysAreUnique(t *testing.T) {
	recipient, err := identity.Generate()
	require.NoError(t, err)

	p1, err := Encrypt(recipient.NodeId(), []byte("a"), nil)
	require.NoError(t, err)
	p2, err := Encrypt(recipient.NodeId(), []byte("a"), nil)
	require.NoError(t, err)

	assert.NotEqual(t, p1.EphemeralPublicKey, p2.EphemeralPublicKey)
	assert.NotEqual(t, p1.Nonce, p2.Nonce)
}
