package config

import (
	"testing"

	"github.com/srg/amtrelay/internal/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SettersStageValues(t *testing.T) {
	store := NewStore(DefaultConfig())
	before := store.Snapshot()

	require.NoError(t, store.SetATTMTU(100))
	require.NoError(t, store.SetConnInterval(80))
	store.SetPHYs(stack.PHY1M)
	store.SetDataLenExt(false)
	store.SetConnEvtLenExt(true)

	after := store.Snapshot()
	assert.Equal(t, uint16(247), before.ATTMTU, "earlier snapshot MUST NOT change")
	assert.Equal(t, TestParams{
		ATTMTU:        100,
		ConnInterval:  80,
		PHYs:          stack.PHY1M,
		DataLenExt:    false,
		ConnEvtLenExt: true,
	}, after)
}

func TestStore_RangeChecks(t *testing.T) {
	store := NewStore(DefaultConfig())

	assert.Error(t, store.SetATTMTU(22))
	assert.Error(t, store.SetATTMTU(248))
	assert.Error(t, store.SetConnInterval(5))
	assert.Error(t, store.SetConnInterval(3201))
	assert.Equal(t, uint16(247), store.Snapshot().ATTMTU, "rejected values MUST NOT be staged")
}

func TestStore_Summary(t *testing.T) {
	store := NewStore(DefaultConfig())

	summary := store.Summary()

	keys := make([]string, 0, summary.Len())
	for pair := summary.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{
		"Board role",
		"ATT MTU size",
		"Connection interval",
		"Data length ext",
		"Connection length ext",
		"Preferred PHY",
	}, keys)

	phy, _ := summary.Get("Preferred PHY")
	assert.Equal(t, "2 Mbps", phy)
	interval, _ := summary.Get("Connection interval")
	assert.Equal(t, "6 units", interval)
}
