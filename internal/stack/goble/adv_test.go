package goble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/amtrelay/internal/advdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdv struct {
	ble.Advertisement
	name        string
	services    []ble.UUID
	connectable bool
	rssi        int
	addr        string
}

func (f fakeAdv) LocalName() string    { return f.name }
func (f fakeAdv) Services() []ble.UUID { return f.services }
func (f fakeAdv) Connectable() bool    { return f.connectable }
func (f fakeAdv) RSSI() int            { return f.rssi }
func (f fakeAdv) Addr() ble.Addr       { return ble.NewAddr(f.addr) }

// GOAL: Verify go-ble advertisements are turned into matchable AD data
//
// TEST SCENARIO: Connectable advertisement with name and service → name matches, service and flags present
func TestAdvReport(t *testing.T) {
	rep := advReport(fakeAdv{
		name:        "Nordic_ATT_MTU",
		services:    []ble.UUID{ServiceUUID, ble.UUID16(0x180d)},
		connectable: true,
		rssi:        -61,
		addr:        "c0:ff:ee:00:00:01",
	})

	assert.Equal(t, "c0:ff:ee:00:00:01", rep.Addr)
	assert.Equal(t, -61, rep.RSSI)
	assert.True(t, advdata.MatchName(rep.Data, "Nordic_ATT_MTU"), "name MUST match")

	uuid, ok := advdata.Find(rep.Data, advdata.TypeCompleteUUID128)
	require.True(t, ok, "128-bit service MUST be present")
	assert.Equal(t, []byte(ServiceUUID), uuid)

	flags, ok := advdata.Find(rep.Data, advdata.TypeFlags)
	require.True(t, ok)
	assert.Equal(t, []byte{connectableFlags}, flags)
}

// GOAL: Verify non connectable advertisements carry no flags
//
// TEST SCENARIO: Anonymous beacon → no name match, no flags
func TestAdvReport_NonConnectable(t *testing.T) {
	rep := advReport(fakeAdv{addr: "c0:ff:ee:00:00:02"})

	assert.False(t, advdata.MatchName(rep.Data, "Nordic_ATT_MTU"))
	_, ok := advdata.Find(rep.Data, advdata.TypeFlags)
	assert.False(t, ok)
}

// GOAL: Verify the merged go-ble name is reported as a complete name
//
// TEST SCENARIO: Advertisement named "Nordic" → complete name field present, no shortened name field
func TestAdvReport_NameIsComplete(t *testing.T) {
	rep := advReport(fakeAdv{name: "Nordic", connectable: true, addr: "c0:ff:ee:00:00:03"})

	name, ok := advdata.Find(rep.Data, advdata.TypeCompleteLocalName)
	require.True(t, ok, "complete name MUST be present")
	assert.Equal(t, []byte("Nordic"), name)

	_, ok = advdata.Find(rep.Data, advdata.TypeShortLocalName)
	assert.False(t, ok, "shortened name MUST NOT be synthesized")
	assert.Equal(t, "Nordic", advdata.Name(rep.Data))
}
