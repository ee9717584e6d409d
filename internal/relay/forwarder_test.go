package relay

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/testutils"
	"github.com/srg/amtrelay/internal/throughput"
	"github.com/srg/amtrelay/pkg/config"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	centralA   stack.Handle = 1
	centralB   stack.Handle = 2
	peripheral stack.Handle = 3
)

type ForwarderTestSuite struct {
	suite.Suite

	stack    *testutils.MockStack
	registry *link.Registry
	clock    *testutils.FakeClock
	lights   *indicator.Lights
	history  *throughput.History
	hook     *test.Hook
	role     config.BoardRole
	fwd      *Forwarder
}

func (s *ForwarderTestSuite) SetupTest() {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	s.hook = hook
	s.stack = &testutils.MockStack{}
	s.registry = link.NewRegistry(2, 1)
	s.clock = testutils.NewFakeClock()
	s.lights = indicator.New(logger)
	s.role = config.RoleRelay

	var err error
	s.history, err = throughput.NewHistory(8)
	s.Require().NoError(err)

	params := config.DefaultConfig().Test
	_, err = s.registry.Add(centralA, stack.RoleCentral, "A", params, 6)
	s.Require().NoError(err)
	_, err = s.registry.Add(centralB, stack.RoleCentral, "B", params, 6)
	s.Require().NoError(err)

	counter := throughput.NewCounter(s.clock)
	counter.Start()

	s.fwd = New(Options{
		Stack:         s.stack,
		Registry:      s.registry,
		Counter:       counter,
		Indicator:     s.lights,
		History:       s.history,
		Role:          func() config.BoardRole { return s.role },
		RunID:         func() string { return "run-1" },
		TransferBytes: 1024,
		Logger:        logger,
	})
}

func (s *ForwarderTestSuite) addPeripheral() {
	_, err := s.registry.Add(peripheral, stack.RolePeripheral, "C", config.DefaultConfig().Test, 6)
	s.Require().NoError(err)
}

func (s *ForwarderTestSuite) TestCompletionFiresOnceAtThreshold() {
	// GOAL: Verify completion fires exactly once when 1024 × KB reaches 3 × transfer bytes
	//
	// TEST SCENARIO: 1024-byte transfer, 244-byte notifications up to 3 KB → one completion,
	// read-back on every central, result recorded, received counters reset

	s.role = config.RoleSlave
	s.stack.On("ReadBack", centralA).Return(nil).Once()
	s.stack.On("ReadBack", centralB).Return(nil).Once()

	completions := 0
	var sent uint32
	for sent < 3*1024 {
		s.clock.Advance(10 * time.Millisecond)
		out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 244, BytesSent: sent})
		sent += 244
		if out.Completed {
			completions++
			s.Require().NotNil(out.Result)
			s.Assert().Equal(uint32(3), out.Result.KB)
			s.Assert().Equal("run-1", out.Result.RunID)
			s.Assert().Greater(out.Result.Kbps, 0.0)
		}
	}

	s.Assert().Equal(1, completions, "completion MUST fire exactly once per crossing")
	s.stack.AssertExpectations(s.T())
	s.Assert().Equal(uint32(0), s.fwd.Stats().ReceivedKB, "received counters MUST reset after completion")
	s.Assert().Equal(uint32(0), s.fwd.Stats().ReceivedTail)
	s.Assert().False(s.lights.IsOn(indicator.Progress))

	results, err := s.history.List()
	s.Require().NoError(err)
	s.Assert().Len(results, 1)
}

func (s *ForwarderTestSuite) TestReadBackFailureIsNotFatal() {
	s.role = config.RoleSlave
	s.stack.On("ReadBack", mock.Anything).Return(stack.ErrBusy)

	out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 3 * 1024})

	s.Assert().True(out.Completed)
	s.Assert().Equal(2, s.stack.CallCount("ReadBack"), "every central MUST be asked even after a failure")
}

func (s *ForwarderTestSuite) TestRelayEmission() {
	// GOAL: Verify each inbound notification is forwarded once with the sender's count and the relay marker
	//
	// TEST SCENARIO: relay role, peripheral link present, 5 notifications → 5 Notify calls with encoded payloads

	s.addPeripheral()
	s.stack.AllowAll()

	for i := uint32(0); i < 5; i++ {
		out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 244, BytesSent: 0x01020304 + i})
		s.Assert().True(out.Relayed)
	}

	s.Assert().Equal(5, s.stack.CallCount("Notify"))

	last := s.stack.Calls[len(s.stack.Calls)-1]
	s.Require().Equal("Notify", last.Method)
	s.Assert().Equal(peripheral, last.Arguments.Get(0))
	payload := last.Arguments.Get(1).([]byte)
	s.Assert().Len(payload, PayloadSize)
	s.Assert().Equal(uint32(0x01020308), binary.LittleEndian.Uint32(payload[0:4]))
	s.Assert().Equal(Marker, payload[MarkerOffset])

	s.Assert().Equal(uint64(5*244), s.fwd.Stats().RelayedBytes)
	s.Assert().Equal(uint32(1), s.fwd.Stats().RelayedKB)
}

func (s *ForwarderTestSuite) TestRelayUsesInboundLength() {
	s.addPeripheral()
	s.stack.AllowAll()

	s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 20, BytesSent: 7})
	s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 400, BytesSent: 7})

	s.Assert().Len(s.stack.Calls[0].Arguments.Get(1).([]byte), 20)
	s.Assert().Len(s.stack.Calls[1].Arguments.Get(1).([]byte), PayloadSize, "payload MUST be capped")
}

func (s *ForwarderTestSuite) TestRelayEmptyNotification() {
	// GOAL: Verify an empty inbound notification still yields exactly one relay attempt
	//
	// TEST SCENARIO: relay role, peripheral present, Len 0 → one Notify with an empty payload, nothing counted

	s.addPeripheral()
	s.stack.AllowAll()

	out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 0, BytesSent: 7})

	s.Assert().True(out.RelayAttempted, "empty notification MUST be forwarded")
	s.Assert().True(out.Relayed)
	s.Require().Equal(1, s.stack.CallCount("Notify"))
	s.Assert().Empty(s.stack.Calls[0].Arguments.Get(1).([]byte))
	s.Assert().Zero(s.fwd.Stats().RelayedBytes)
}

func (s *ForwarderTestSuite) TestRelayWithoutPeripheral() {
	// GOAL: Verify no emission is attempted when the output slot is empty
	//
	// TEST SCENARIO: relay role, no peripheral link, 10 notifications → 0 Notify calls, error logged

	for i := 0; i < 10; i++ {
		out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 100})
		s.Assert().False(out.RelayAttempted)
	}

	s.Assert().Equal(0, s.stack.CallCount("Notify"))
	s.Require().NotNil(s.hook.LastEntry())
	s.Assert().Equal(logrus.ErrorLevel, s.hook.LastEntry().Level)
}

func (s *ForwarderTestSuite) TestNoRelayOutsideRelayRole() {
	s.addPeripheral()
	s.role = config.RoleSlave

	out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 100})

	s.Assert().False(out.RelayAttempted)
	s.Assert().Equal(0, s.stack.CallCount("Notify"))
}

func (s *ForwarderTestSuite) TestQueueFullIsDropped() {
	s.addPeripheral()
	s.stack.On("Notify", peripheral, mock.Anything).Return(stack.NewError("notify", stack.StatusQueueFull, "tx queue full")).Once()
	s.stack.AllowAll()

	first := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 100})
	second := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 100})

	s.Assert().True(first.RelayAttempted)
	s.Assert().False(first.Relayed, "queue full MUST drop the notification")
	s.Assert().True(second.Relayed)
	s.Assert().Equal(uint64(1), s.fwd.Stats().RelayDropped)
	s.Assert().Equal(uint64(100), s.fwd.Stats().RelayedBytes, "dropped bytes MUST NOT be counted as relayed")
}

func (s *ForwarderTestSuite) TestMilestonesToggleProgress() {
	s.role = config.RoleSlave

	out := s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 2048})

	s.Assert().Equal(2, out.Milestones)
	s.Assert().Equal(2, s.lights.Toggles(indicator.Progress))
}

func (s *ForwarderTestSuite) TestReset() {
	s.addPeripheral()
	s.stack.AllowAll()
	s.fwd.OnNotification(event.Notification{Handle: centralA, Len: 200})

	s.fwd.Reset()

	stats := s.fwd.Stats()
	s.Assert().Equal(uint32(0), stats.ReceivedTail)
	s.Assert().Equal(uint64(0), stats.RelayedBytes)
}

func TestForwarderTestSuite(t *testing.T) {
	suite.Run(t, new(ForwarderTestSuite))
}
