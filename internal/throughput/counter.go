// Package throughput measures elapsed time and byte progress of a test run.
package throughput

import (
	"time"
)

// KB is the milestone granularity.
const KB = 1024

// Clock supplies the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Counter is a millisecond stopwatch sampled at start and stop.
type Counter struct {
	clock   Clock
	started time.Time
	stopped time.Time
	running bool
}

// NewCounter creates a stopped counter. A nil clock uses the wall clock.
func NewCounter(clock Clock) *Counter {
	if clock == nil {
		clock = SystemClock
	}
	return &Counter{clock: clock}
}

// Start resets and starts the counter.
func (c *Counter) Start() {
	c.started = c.clock.Now()
	c.stopped = time.Time{}
	c.running = true
}

// Stop freezes the counter and returns the elapsed milliseconds.
func (c *Counter) Stop() int64 {
	if c.running {
		c.stopped = c.clock.Now()
		c.running = false
	}
	return c.ElapsedMs()
}

// Running reports whether the counter is started and not stopped.
func (c *Counter) Running() bool {
	return c.running
}

// ElapsedMs returns milliseconds since Start, up to Stop if stopped.
func (c *Counter) ElapsedMs() int64 {
	if c.started.IsZero() {
		return 0
	}
	end := c.stopped
	if c.running {
		end = c.clock.Now()
	}
	return end.Sub(c.started).Milliseconds()
}

// Kbps converts kilobytes over a duration to kilobits per second,
// (kb × 8192) / seconds / 1000. It returns 0 for a zero duration.
func Kbps(kb uint32, ms int64) float64 {
	if ms <= 0 {
		return 0
	}
	return float64(kb) * 8192 / (float64(ms) / 1000) / 1000
}

// Milestones counts 1 KiB boundary crossings independent of chunk size.
type Milestones struct {
	pending uint32
	kb      uint32
}

// Add accounts n bytes and returns how many 1 KiB boundaries were crossed.
func (m *Milestones) Add(n int) int {
	if n <= 0 {
		return 0
	}
	m.pending += uint32(n)
	crossed := 0
	for m.pending >= KB {
		m.pending -= KB
		m.kb++
		crossed++
	}
	return crossed
}

// KB returns the number of whole kilobytes accounted.
func (m *Milestones) KB() uint32 {
	return m.kb
}

// Pending returns the bytes accumulated toward the next milestone.
func (m *Milestones) Pending() uint32 {
	return m.pending
}

// Total returns every byte accounted since the last reset.
func (m *Milestones) Total() uint64 {
	return uint64(m.kb)*KB + uint64(m.pending)
}

// Reset zeroes the counters.
func (m *Milestones) Reset() {
	m.pending = 0
	m.kb = 0
}
