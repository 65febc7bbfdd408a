package subnet

import (
	"testing"

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

func TestRecordInteractionBuildsCluster(t *testing.T) {
	m := NewManager()
	a, b, c := mustID(t), mustID(t), mustID(t)

	for i := 0; i < 5; i++ {
		m.RecordInteraction(a, b, 0.2)
		m.RecordInteraction(b, c, 0.2)
	}

	_, formations := m.Recompute()
	require.Len(t, formations, 1)
	assert.Len(t, formations[0].Subnet.Members, 3)
}

func TestDecayPrunesWeakEdges(t *testing.T) {
	m := NewManager()
	a, b := mustID(t), mustID(t)
	m.RecordInteraction(a, b, MinEdgeWeight*1.01)

	m.Decay()
	assert.Less(t, m.EdgeWeight(a, b), MinEdgeWeight)
}

func TestRecomputeDissolvesWhenEdgesDecay(t *testing.T) {
	m := NewManager()
	a, b := mustID(t), mustID(t)
	for i := 0; i < 5; i++ {
		m.RecordInteraction(a, b, 0.3)
	}
	_, formations := m.Recompute()
	require.Len(t, formations, 1)

	for i := 0; i < 50; i++ {
		m.Decay()
	}
	dissolutions, _ := m.Recompute()
	require.Len(t, dissolutions, 1)
	assert.Equal(t, DissolvedNoEdges, dissolutions[0].Reason)
}

func TestEdgeWeightCapsAtOne(t *testing.T) {
	m := NewManager()
	a, b := mustID(t), mustID(t)
	for i := 0; i < 20; i++ {
		m.RecordInteraction(a, b, 0.5)
	}
	assert.Equal(t, 1.0, m.EdgeWeight(a, b))
}
