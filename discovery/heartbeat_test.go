package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tom-x-project/tom/identity"
)

func mustID(t *testing.T) identity.NodeId {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp.NodeId()
}

func TestLivenessTiers(t *testing.T) {
	h := WithThresholds(10*time.Millisecond, 20*time.Millisecond)
	id := mustID(t)

	base := time.Now()
	h.RecordHeartbeatAt(id, base)

	assert.Equal(t, Alive, h.LivenessAt(id, base))
	assert.Equal(t, Stale, h.LivenessAt(id, base.Add(15*time.Millisecond)))
	assert.Equal(t, Departed, h.LivenessAt(id, base.Add(25*time.Millisecond)))
}

func TestLivenessUnknownPeerIsDeparted(t *testing.T) {
	h := New()
	assert.Equal(t, Departed, h.Liveness(mustID(t)))
}

func TestUntrackPeerForgetsIt(t *testing.T) {
	h := New()
	id := mustID(t)
	h.RecordHeartbeat(id)
	require.Equal(t, 1, h.TrackedCount())

	h.UntrackPeer(id)
	assert.Equal(t, 0, h.TrackedCount())
}

func TestCleanupDepartedForgetsOldEntries(t *testing.T) {
	h := WithThresholds(time.Millisecond, 2*time.Millisecond)
	id := mustID(t)
	h.RecordHeartbeatAt(id, time.Now().Add(-DepartedCleanupThreshold-time.Hour))

	h.CleanupDeparted()
	assert.Equal(t, 0, h.TrackedCount())
}
