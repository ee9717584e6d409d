// Package indicator drives the board's status lights.
//
// The relay has no real LEDs when it runs on a host, so the default
// implementation records the state and logs changes at debug level.
package indicator

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LED identifies one status light.
type LED int

const (
	ScanAdv LED = iota
	Ready
	Progress
	Done
)

func (l LED) String() string {
	switch l {
	case ScanAdv:
		return "scan_adv"
	case Ready:
		return "ready"
	case Progress:
		return "progress"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

var allLEDs = []LED{ScanAdv, Ready, Progress, Done}

// Indicator is the status light sink.
type Indicator interface {
	On(led LED)
	Off(led LED)
	Toggle(led LED)
	AllOff()
}

// Lights is a logging Indicator that keeps the current light state.
type Lights struct {
	mu      sync.Mutex
	state   map[LED]bool
	toggles map[LED]int
	logger  *logrus.Logger
}

// New creates a Lights with every light off.
func New(logger *logrus.Logger) *Lights {
	if logger == nil {
		logger = logrus.New()
	}
	return &Lights{
		state:   make(map[LED]bool, len(allLEDs)),
		toggles: make(map[LED]int, len(allLEDs)),
		logger:  logger,
	}
}

func (l *Lights) On(led LED) {
	l.set(led, true)
}

func (l *Lights) Off(led LED) {
	l.set(led, false)
}

func (l *Lights) Toggle(led LED) {
	l.mu.Lock()
	on := !l.state[led]
	l.toggles[led]++
	l.mu.Unlock()
	l.set(led, on)
}

func (l *Lights) AllOff() {
	for _, led := range allLEDs {
		l.set(led, false)
	}
}

// IsOn reports the current state of led.
func (l *Lights) IsOn(led LED) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state[led]
}

// Toggles returns how many times led was toggled.
func (l *Lights) Toggles(led LED) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.toggles[led]
}

func (l *Lights) set(led LED, on bool) {
	l.mu.Lock()
	changed := l.state[led] != on
	l.state[led] = on
	l.mu.Unlock()

	if changed {
		l.logger.WithFields(logrus.Fields{"led": led, "on": on}).Debug("Indicator changed")
	}
}
