// Package server sources the throughput stream on the peripheral link.
package server

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/gate"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/relay"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/throughput"
	"github.com/srg/amtrelay/pkg/config"
)

// attHeader is the notification opcode plus attribute handle.
const attHeader = 3

// Stack is the part of the BLE host the source needs.
type Stack interface {
	Notify(h stack.Handle, payload []byte) error
	SetReadBack(value uint32) error
	UpdateConnParams(h stack.Handle, params stack.ConnParams) error
}

// Options configures a Source.
type Options struct {
	Stack         Stack
	Registry      *link.Registry
	Gate          *gate.Gate
	Counter       *throughput.Counter
	Indicator     indicator.Indicator
	History       *throughput.History
	RunID         func() string
	TransferBytes uint32
	Logger        *logrus.Logger
}

// Source streams notifications to the collector once a test runs.
type Source struct {
	opts Options

	handle  stack.Handle
	enabled bool
	running bool
	mtu     uint16
	sent    uint32
	kb      throughput.Milestones

	logger *logrus.Logger
}

func New(opts Options) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RunID == nil {
		opts.RunID = func() string { return "" }
	}
	return &Source{opts: opts, mtu: config.MinATTMTU, logger: logger}
}

// OnNotificationsEnabled is called when the collector subscribes. It returns
// an error only when the stack refuses the interval update; the caller logs it.
func (s *Source) OnNotificationsEnabled(h stack.Handle) error {
	s.handle = h
	s.enabled = true
	s.opts.Indicator.On(indicator.Ready)
	s.opts.Gate.Set(gate.NotificationsEnabled)
	s.logger.WithField("handle", h).Info("Notifications enabled")

	l, ok := s.opts.Registry.Get(h)
	if !ok {
		return nil
	}
	want := l.Params.ConnInterval
	if want == config.DefaultConnInterval || want == l.Interval {
		s.opts.Gate.Set(gate.ConnIntervalConfigured)
		return nil
	}

	s.opts.Gate.Clear(gate.ConnIntervalConfigured)
	s.logger.WithFields(logrus.Fields{
		"handle":   h,
		"interval": want,
	}).Debug("Updating connection parameters")
	return s.opts.Stack.UpdateConnParams(h, stack.IntervalParams(want))
}

// OnNotificationsDisabled stops streaming to h.
func (s *Source) OnNotificationsDisabled(h stack.Handle) {
	if h != s.handle {
		return
	}
	s.enabled = false
	s.opts.Indicator.Off(indicator.Ready)
	s.logger.WithField("handle", h).Info("Notifications disabled")
}

// SetMTU records the negotiated ATT MTU of the peripheral link.
func (s *Source) SetMTU(mtu uint16) {
	s.mtu = mtu
}

// PayloadSize is the notification length for the current MTU.
func (s *Source) PayloadSize() int {
	n := int(s.mtu) - attHeader
	if n > relay.PayloadSize {
		n = relay.PayloadSize
	}
	if n < 0 {
		n = 0
	}
	return n
}

// Enabled reports whether the collector is subscribed.
func (s *Source) Enabled() bool {
	return s.enabled
}

// Running reports whether the stream is active.
func (s *Source) Running() bool {
	return s.running
}

// Sent returns the bytes sent in the current run.
func (s *Source) Sent() uint32 {
	return s.sent
}

// Start begins a run. The caller pumps it on every stream tick.
func (s *Source) Start() {
	if !s.enabled {
		return
	}
	s.running = true
	s.sent = 0
	s.kb.Reset()
	s.opts.Indicator.Off(indicator.Done)
	s.logger.WithFields(logrus.Fields{
		"handle":  s.handle,
		"payload": s.PayloadSize(),
	}).Info("Streaming started")
}

// Pump sends notifications until the stack's queue is full. It returns the
// number of notifications sent.
func (s *Source) Pump() int {
	if !s.running || !s.enabled {
		return 0
	}
	size := s.PayloadSize()
	if size == 0 {
		return 0
	}

	n := 0
	for s.running {
		payload := relay.EncodePayload(s.sent, false)
		err := s.opts.Stack.Notify(s.handle, payload[:size])
		if errors.Is(err, stack.ErrQueueFull) {
			break
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"handle": s.handle,
				"status": stack.StatusOf(err),
			}).WithError(err).Error("Notification failed")
			break
		}
		n++
		s.sent += uint32(size)

		if crossed := s.kb.Add(size); crossed > 0 {
			for i := 0; i < crossed; i++ {
				s.opts.Indicator.Toggle(indicator.Progress)
			}
			s.publishKB()
		}

		if s.opts.TransferBytes > 0 && s.sent >= s.opts.TransferBytes {
			s.Stop()
		}
	}
	return n
}

// publishKB mirrors the running kilobyte count into the read-back value.
func (s *Source) publishKB() {
	kb := s.kb.KB()
	s.logger.WithField("kbytes", kb).Debug("Sent kbytes")
	if err := s.opts.Stack.SetReadBack(kb); err != nil {
		s.logger.WithError(err).Warn("Failed to update read-back value")
	}
}

// Stop ends the run, publishes the integer throughput in bits per millisecond
// through the read-back characteristic and records the result.
func (s *Source) Stop() (throughput.Result, bool) {
	if !s.running {
		return throughput.Result{}, false
	}
	s.running = false

	ms := s.opts.Counter.Stop()
	kb := s.sent / throughput.KB
	res := throughput.Result{
		RunID:    s.opts.RunID(),
		Kind:     throughput.KindSent,
		KB:       kb,
		Elapsed:  time.Duration(ms) * time.Millisecond,
		Kbps:     throughput.Kbps(kb, ms),
		Finished: time.Now(),
	}

	s.opts.Indicator.Off(indicator.Progress)
	s.opts.Indicator.On(indicator.Done)

	if err := s.opts.Stack.SetReadBack(bitsPerMs(s.sent, ms)); err != nil {
		s.logger.WithError(err).Warn("Failed to publish throughput")
	}
	if s.opts.History != nil {
		if err := s.opts.History.Add(res); err != nil {
			s.logger.WithError(err).Warn("Failed to record result")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":     res.RunID,
		"bytes":      s.sent,
		"elapsed_ms": ms,
		"kbps":       res.Kbps,
	}).Info("Streaming done")
	return res, true
}

// Reset forgets the subscription, e.g. after the peripheral link dropped.
func (s *Source) Reset() {
	s.running = false
	s.enabled = false
	s.sent = 0
	s.kb.Reset()
	s.mtu = config.MinATTMTU
}

// bitsPerMs is the integer throughput written back to the collector.
func bitsPerMs(bytes uint32, ms int64) uint32 {
	if ms <= 0 {
		return 0
	}
	return uint32(uint64(bytes) * 8 / uint64(ms))
}
