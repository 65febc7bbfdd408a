package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
)

func TestSignAndVerify(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 8, false)
	require.NoError(t, e.Sign(sender))
	assert.NoError(t, e.Verify())
}

func TestVerifyRejectsUnsigned(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 8, false)
	assert.ErrorIs(t, e.Verify(), ErrUnsigned)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 8, false)
	require.NoError(t, e.Sign(sender))

	e.Payload = []byte("tampered")
	assert.Error(t, e.Verify())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 8, false)
	require.NoError(t, e.Sign(sender))

	b, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(b)
	require.NoError(t, err)

	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.From, got.From)
	assert.Equal(t, e.To, got.To)
	assert.Equal(t, e.Payload, got.Payload)
	assert.NoError(t, got.Verify())
}

func TestWithHopEnforcesMaxDepth(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 8, false)
	for i := 0; i < MaxViaDepth; i++ {
		relay, err := identity.Generate()
		require.NoError(t, err)
		require.NoError(t, e.WithHop(relay.NodeId()))
	}
	relay, err := identity.Generate()
	require.NoError(t, err)
	assert.ErrorIs(t, e.WithHop(relay.NodeId()), ErrViaTooDeep)
}

func TestEncryptDecryptPayloadRoundTrip(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, nil, 8, false)
	require.NoError(t, e.EncryptPayload([]byte("secret")))
	require.True(t, e.Encrypted)
	require.NoError(t, e.Sign(sender))

	assert.NoError(t, e.Verify())
	require.NoError(t, e.DecryptPayload(recipient.Seed()))
	assert.Equal(t, []byte("secret"), e.Payload)
	assert.False(t, e.Encrypted)
}

func TestDecryptPayloadRejectsWrongRecipient(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)
	stranger, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, nil, 8, false)
	require.NoError(t, e.EncryptPayload([]byte("secret")))

	assert.Error(t, e.DecryptPayload(stranger.Seed()))
}

func TestWithHopDecrementsTTL(t *testing.T) {
	sender, err := identity.Generate()
	require.NoError(t, err)
	recipient, err := identity.Generate()
	require.NoError(t, err)
	relay, err := identity.Generate()
	require.NoError(t, err)

	e := New(sender.NodeId(), recipient.NodeId(), MsgTypeChat, []byte("hi"), 3, false)
	require.NoError(t, e.WithHop(relay.NodeId()))
	assert.EqualValues(t, 2, e.TTL)
}
