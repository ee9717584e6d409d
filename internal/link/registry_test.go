package link

import (
	"testing"

	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite

	registry *Registry
	params   config.TestParams
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.registry = NewRegistry(2, 1)
	suite.params = config.DefaultConfig().Test
}

func (suite *RegistryTestSuite) TestAdd() {
	suite.Run("central link is marked for discovery", func() {
		l, err := suite.registry.Add(0, stack.RoleCentral, "AA:BB", suite.params, 6)

		suite.Require().NoError(err)
		suite.Assert().True(l.DiscoveryPending, "central link MUST wait for discovery")
		suite.Assert().False(l.DiscoveryComplete)
		suite.Assert().Equal(stack.RoleCentral, suite.registry.Role(0))
	})

	suite.Run("peripheral link becomes the output slot", func() {
		_, err := suite.registry.Add(1, stack.RolePeripheral, "CC:DD", suite.params, 6)
		suite.Require().NoError(err)

		out, ok := suite.registry.Peripheral()

		suite.Assert().True(ok)
		suite.Assert().Equal(stack.Handle(1), out.Handle)
		suite.Assert().False(out.DiscoveryPending, "peripheral link MUST NOT be discovered")
	})

	suite.Run("second peripheral is refused", func() {
		_, err := suite.registry.Add(2, stack.RolePeripheral, "EE:FF", suite.params, 6)

		suite.Assert().ErrorIs(err, ErrPeripheralIn)
	})

	suite.Run("duplicate handle is refused", func() {
		_, err := suite.registry.Add(0, stack.RoleCentral, "AA:BB", suite.params, 6)

		suite.Assert().ErrorIs(err, ErrDuplicate)
	})

	suite.Run("central budget is enforced", func() {
		_, err := suite.registry.Add(3, stack.RoleCentral, "11:22", suite.params, 6)
		suite.Require().NoError(err)
		suite.Assert().True(suite.registry.CentralsFull())

		_, err = suite.registry.Add(4, stack.RoleCentral, "33:44", suite.params, 6)

		suite.Assert().ErrorIs(err, ErrBudget)
	})

	suite.Run("handle beyond controller range is refused", func() {
		_, err := suite.registry.Add(MaxHandle+1, stack.RoleCentral, "x", suite.params, 6)

		suite.Assert().ErrorIs(err, ErrHandleRange)
	})

	suite.Run("absent role is refused", func() {
		_, err := suite.registry.Add(9, stack.RoleAbsent, "x", suite.params, 6)

		suite.Assert().Error(err)
	})
}

func (suite *RegistryTestSuite) TestRemove() {
	_, _ = suite.registry.Add(0, stack.RoleCentral, "AA", suite.params, 6)
	_, _ = suite.registry.Add(5, stack.RolePeripheral, "BB", suite.params, 6)

	removed, ok := suite.registry.Remove(5)

	suite.Assert().True(ok)
	suite.Assert().Equal(stack.RolePeripheral, removed.Role)
	_, ok = suite.registry.Peripheral()
	suite.Assert().False(ok, "output slot MUST be cleared with its link")
	suite.Assert().Equal(stack.RoleAbsent, suite.registry.Role(5))

	_, ok = suite.registry.Remove(5)
	suite.Assert().False(ok, "second removal MUST report absence")
	suite.Assert().Equal(1, suite.registry.Len())
}

func (suite *RegistryTestSuite) TestMutators() {
	_, _ = suite.registry.Add(2, stack.RoleCentral, "AA", suite.params, 6)
	_, _ = suite.registry.Add(0, stack.RoleCentral, "BB", suite.params, 6)

	suite.Assert().True(suite.registry.MarkDiscovered(2))
	suite.Assert().True(suite.registry.MarkSubscribed(2))
	suite.Assert().True(suite.registry.SetInterval(2, 40))
	suite.Assert().False(suite.registry.MarkDiscovered(7), "unknown handle MUST be reported")

	l, _ := suite.registry.Get(2)
	suite.Assert().True(l.DiscoveryComplete)
	suite.Assert().False(l.DiscoveryPending)
	suite.Assert().True(l.Subscribed)
	suite.Assert().Equal(uint16(40), l.Interval)

	centrals := suite.registry.Centrals()
	suite.Require().Len(centrals, 2)
	suite.Assert().Equal(stack.Handle(0), centrals[0].Handle, "centrals MUST be ordered by handle")
}

func (suite *RegistryTestSuite) TestGetReturnsCopy() {
	_, _ = suite.registry.Add(1, stack.RoleCentral, "AA", suite.params, 6)

	l, _ := suite.registry.Get(1)
	l.Subscribed = true

	again, _ := suite.registry.Get(1)
	suite.Assert().False(again.Subscribed, "callers MUST NOT mutate registry state through copies")
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
