package discovery

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/testutils"
	"github.com/srg/amtrelay/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const central stack.Handle = 4

func setup(t *testing.T, role config.BoardRole) (*Orchestrator, *testutils.MockStack, *link.Registry) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := &testutils.MockStack{}
	r := link.NewRegistry(1, 1)
	_, err := r.Add(central, stack.RoleCentral, "AA", config.DefaultConfig().Test, 6)
	require.NoError(t, err)
	return New(s, r, func() config.BoardRole { return role }, logger), s, r
}

func TestOnDiscoveryComplete(t *testing.T) {
	tests := []struct {
		name       string
		role       config.BoardRole
		secureErr  error
		enableErr  error
		wantSecure bool
		wantFatal  bool
		wantSub    bool
	}{
		{name: "relay secures then subscribes", role: config.RoleRelay, wantSecure: true, wantSub: true},
		{name: "already secured is success", role: config.RoleRelay, secureErr: stack.NewError("secure", stack.StatusInvalidState, "bonded"), wantSecure: true, wantSub: true},
		{name: "security failure is fatal", role: config.RoleRelay, secureErr: errors.New("smp failure"), wantSecure: true, wantFatal: true},
		{name: "master skips security", role: config.RoleMaster, wantSub: true},
		{name: "subscription failure is fatal", role: config.RoleMaster, enableErr: errors.New("write failed"), wantFatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, s, r := setup(t, tt.role)
			if tt.wantSecure {
				s.On("SecureLink", central).Return(tt.secureErr).Once()
			}
			s.On("EnableNotifications", central).Return(tt.enableErr).Maybe()

			err := o.OnDiscoveryComplete(central)

			assert.Equal(t, tt.wantFatal, fault.IsFatal(err), "err = %v", err)
			l, _ := r.Get(central)
			assert.True(t, l.DiscoveryComplete)
			assert.Equal(t, tt.wantSub, l.Subscribed)
			if !tt.wantSecure {
				assert.Equal(t, 0, s.CallCount("SecureLink"), "only a relay MUST secure links")
			}
			s.AssertExpectations(t)
		})
	}
}

func TestStart(t *testing.T) {
	o, s, _ := setup(t, config.RoleRelay)
	s.On("DiscoverService", central).Return(nil).Once()
	s.On("DiscoverService", stack.Handle(5)).Return(nil).Maybe()

	require.NoError(t, o.Start(central))
	assert.ErrorIs(t, o.Start(5), stack.ErrNotFound, "unknown link MUST NOT be discovered")
	assert.Equal(t, 1, s.CallCount("DiscoverService"))

	s.On("DiscoverService", central).Return(errors.New("busy")).Once()
	assert.True(t, fault.IsFatal(o.Start(central)))
}

func TestOnDiscoveryComplete_UnknownLink(t *testing.T) {
	o, s, _ := setup(t, config.RoleRelay)

	assert.NoError(t, o.OnDiscoveryComplete(9))
	assert.Empty(t, s.Calls)
}
