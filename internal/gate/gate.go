// Package gate decides when a throughput test may start.
//
// A test only measures something reproducible once every negotiated link
// parameter has reached its final value. The gate collects the five
// completion signals and fires a single start per cycle.
package gate

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/pkg/config"
)

// Flag is one readiness condition.
type Flag uint8

const (
	NotificationsEnabled Flag = 1 << iota
	MTUExchanged
	DataLengthUpdated
	PHYUpdated
	ConnIntervalConfigured

	AllFlags = NotificationsEnabled | MTUExchanged | DataLengthUpdated | PHYUpdated | ConnIntervalConfigured
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{NotificationsEnabled, "notifications_enabled"},
	{MTUExchanged, "mtu_exchanged"},
	{DataLengthUpdated, "data_length_updated"},
	{PHYUpdated, "phy_updated"},
	{ConnIntervalConfigured, "conn_interval_configured"},
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// State of the gate.
type State int

const (
	Idle State = iota
	Armed
	Ready
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Ready:
		return "ready"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Gate is the readiness state machine. It is not safe for concurrent use; the
// dispatcher loop is its only caller.
type Gate struct {
	flags   Flag
	running bool
	role    func() config.BoardRole
	logger  *logrus.Logger
}

// New creates an idle gate. role is consulted on every readiness check so a
// role change from the console applies immediately.
func New(role func() config.BoardRole, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{role: role, logger: logger}
}

// State derives the current state from the flags.
func (g *Gate) State() State {
	switch {
	case g.running:
		return Running
	case g.flags == AllFlags && g.role().PeripheralCapable():
		return Ready
	case g.flags != 0:
		return Armed
	default:
		return Idle
	}
}

// Flags returns the flags collected so far.
func (g *Gate) Flags() Flag {
	return g.flags
}

// Has reports whether f is set.
func (g *Gate) Has(f Flag) bool {
	return g.flags&f == f
}

// Running reports whether a test is in progress.
func (g *Gate) Running() bool {
	return g.running
}

// Set records a completion signal. It returns false when the flag was already
// set or a test is running.
func (g *Gate) Set(f Flag) bool {
	if g.running {
		g.logger.WithField("flag", f).Debug("Readiness flag ignored while test is running")
		return false
	}
	if g.flags&f == f {
		return false
	}
	g.flags |= f
	g.logger.WithFields(logrus.Fields{
		"flag":  f,
		"state": g.State(),
	}).Debug("Readiness flag set")
	return true
}

// Clear withdraws a completion signal, e.g. when a parameter is renegotiated.
func (g *Gate) Clear(f Flag) bool {
	if g.running || g.flags&f == 0 {
		return false
	}
	g.flags &^= f
	return true
}

// TryStart takes the Ready → Running transition. It returns true exactly once
// per Ready entry.
func (g *Gate) TryStart() bool {
	if g.State() != Ready {
		return false
	}
	g.running = true
	g.logger.Info("Test started")
	return true
}

// Terminate resets the gate to Idle from any state.
func (g *Gate) Terminate() {
	if g.running || g.flags != 0 {
		g.logger.WithFields(logrus.Fields{
			"flags":   g.flags,
			"running": g.running,
		}).Debug("Readiness gate reset")
	}
	g.flags = 0
	g.running = false
}
