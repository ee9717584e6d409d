package throughput

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_KeepsOrderAndSurvivesReads(t *testing.T) {
	h, err := NewHistory(8)
	require.NoError(t, err)

	for i := uint32(1); i <= 3; i++ {
		require.NoError(t, h.Add(Result{Kind: KindReceived, KB: i}))
	}

	first, err := h.List()
	require.NoError(t, err)
	second, err := h.List()
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, uint32(1), first[0].KB, "results MUST be listed oldest first")
	assert.Equal(t, uint32(3), first[2].KB)
	assert.Equal(t, first, second, "listing MUST NOT consume the history")
}

func TestHistory_OverwritesOldest(t *testing.T) {
	h, err := NewHistory(4)
	require.NoError(t, err)

	for i := uint32(1); i <= 20; i++ {
		require.NoError(t, h.Add(Result{KB: i}))
	}

	list, err := h.List()
	require.NoError(t, err)

	require.NotEmpty(t, list)
	assert.Less(t, len(list), 20, "history MUST be bounded")
	assert.Equal(t, uint32(20), list[len(list)-1].KB, "newest result MUST be kept")
	assert.Greater(t, h.Overwritten(), uint32(0))
}

func TestNewHistory_RejectsZero(t *testing.T) {
	_, err := NewHistory(0)
	assert.Error(t, err)
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()

	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}
