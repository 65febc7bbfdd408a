package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndFromSeed(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	reconstructed, err := FromSeed(kp.Seed())
	require.NoError(t, err)

	assert.Equal(t, kp.NodeId(), reconstructed.NodeId())
}

func TestNodeIdHexRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	id := kp.NodeId()
	parsed, err := NodeIdFromHex(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestNodeIdFromBytesRejectsWrongLength(t *testing.T) {
	_, err := NodeIdFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	msg := []byte("hello tom")
	sig := kp.Sign(msg)
	assert.True(t, VerifySignature(kp.NodeId(), msg, sig))

	other, err := Generate()
	require.NoError(t, err)
	assert.False(t, VerifySignature(other.NodeId(), msg, sig))
}

func TestIsZero(t *testing.T) {
	var zero NodeId
	assert.True(t, zero.IsZero())

	kp, err := Generate()
	require.NoError(t, err)
	assert.False(t, kp.NodeId().IsZero())
}
