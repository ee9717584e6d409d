package gate

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allFlags = []Flag{NotificationsEnabled, MTUExchanged, DataLengthUpdated, PHYUpdated, ConnIntervalConfigured}

func newGate(role config.BoardRole) *Gate {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(func() config.BoardRole { return role }, logger)
}

func TestGate_AllSubsets(t *testing.T) {
	// GOAL: Verify Ready is reached iff every flag is set, the role is peripheral capable and no test runs
	//
	// TEST SCENARIO: all 32 flag subsets × all roles × running/not running → State() compared with the predicate

	roles := []config.BoardRole{config.RoleRelay, config.RoleSlave, config.RoleMaster, config.RoleNotSelected}

	for mask := 0; mask < 32; mask++ {
		for _, role := range roles {
			for _, running := range []bool{false, true} {
				name := fmt.Sprintf("mask=%05b/role=%s/running=%v", mask, role, running)
				t.Run(name, func(t *testing.T) {
					g := newGate(role)
					for i, f := range allFlags {
						if mask&(1<<i) != 0 {
							g.Set(f)
						}
					}
					if running {
						g.flags = AllFlags
						g.running = true
					}

					want := mask == 31 && role.PeripheralCapable() && !running
					assert.Equal(t, want, g.State() == Ready, "Ready MUST match the readiness predicate")
					assert.Equal(t, want, g.TryStart(), "TryStart MUST fire only from Ready")
				})
			}
		}
	}
}

func TestGate_StateProgression(t *testing.T) {
	g := newGate(config.RoleRelay)
	assert.Equal(t, Idle, g.State())

	g.Set(MTUExchanged)
	assert.Equal(t, Armed, g.State())

	for _, f := range allFlags {
		g.Set(f)
	}
	assert.Equal(t, Ready, g.State())

	require.True(t, g.TryStart())
	assert.Equal(t, Running, g.State())
	assert.False(t, g.TryStart(), "Running MUST be entered exactly once per Ready")
}

func TestGate_SetIsIdempotent(t *testing.T) {
	g := newGate(config.RoleSlave)

	assert.True(t, g.Set(PHYUpdated))
	assert.False(t, g.Set(PHYUpdated), "re-setting a flag MUST be a no-op")
	assert.Equal(t, PHYUpdated, g.Flags())
}

func TestGate_MutationsIgnoredWhileRunning(t *testing.T) {
	g := newGate(config.RoleRelay)
	for _, f := range allFlags {
		g.Set(f)
	}
	require.True(t, g.TryStart())

	assert.False(t, g.Clear(ConnIntervalConfigured), "Clear MUST be ignored while running")
	assert.True(t, g.Has(ConnIntervalConfigured))
	assert.False(t, g.Set(PHYUpdated))
}

func TestGate_ClearReArms(t *testing.T) {
	g := newGate(config.RoleRelay)
	for _, f := range allFlags {
		g.Set(f)
	}
	require.Equal(t, Ready, g.State())

	assert.True(t, g.Clear(ConnIntervalConfigured))

	assert.Equal(t, Armed, g.State())
	assert.False(t, g.TryStart())
}

func TestGate_TerminateFromAnyState(t *testing.T) {
	// GOAL: Verify terminate always yields all flags false and no running test
	//
	// TEST SCENARIO: drive the gate into each state → Terminate → Idle with zero flags

	setups := map[string]func(g *Gate){
		"idle":  func(g *Gate) {},
		"armed": func(g *Gate) { g.Set(NotificationsEnabled) },
		"ready": func(g *Gate) {
			for _, f := range allFlags {
				g.Set(f)
			}
		},
		"running": func(g *Gate) {
			for _, f := range allFlags {
				g.Set(f)
			}
			g.TryStart()
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			g := newGate(config.RoleRelay)
			setup(g)

			g.Terminate()

			assert.Equal(t, Idle, g.State())
			assert.Equal(t, Flag(0), g.Flags())
			assert.False(t, g.Running())
		})
	}
}

func TestGate_ArbitraryOrderStartsOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		g := newGate(config.RoleRelay)
		order := rng.Perm(len(allFlags))
		starts := 0

		for _, idx := range order {
			g.Set(allFlags[idx])
			g.Set(allFlags[rng.Intn(len(allFlags))])
			if g.TryStart() {
				starts++
			}
		}

		assert.Equal(t, 1, starts, "order %v MUST start exactly once", order)
	}
}

func TestFlag_String(t *testing.T) {
	assert.Equal(t, "none", Flag(0).String())
	assert.Equal(t, "mtu_exchanged|phy_updated", (MTUExchanged | PHYUpdated).String())
}
