// Package relay accounts inbound throughput notifications and forwards them
// to the downstream collector.
package relay

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/throughput"
	"github.com/srg/amtrelay/pkg/config"
)

// Stack is the part of the BLE host the forwarder talks to.
type Stack interface {
	ReadBack(h stack.Handle) error
	Notify(h stack.Handle, payload []byte) error
}

// Outcome describes what one notification caused.
type Outcome struct {
	Milestones int
	Completed  bool
	Result     *throughput.Result
	// RelayAttempted is true when a Notify call was issued downstream.
	RelayAttempted bool
	Relayed        bool
}

// Stats is a snapshot of the forwarder counters.
type Stats struct {
	ReceivedKB   uint32 `json:"received_kbytes"`
	ReceivedTail uint32 `json:"received_pending"`
	RelayedKB    uint32 `json:"relayed_kbytes"`
	RelayedBytes uint64 `json:"relayed_bytes"`
	RelayDropped uint64 `json:"relay_dropped"`
	Completions  uint64 `json:"completions"`
}

// Options configures a Forwarder.
type Options struct {
	Stack         Stack
	Registry      *link.Registry
	Counter       *throughput.Counter
	Indicator     indicator.Indicator
	History       *throughput.History
	Role          func() config.BoardRole
	RunID         func() string
	TransferBytes uint32
	Logger        *logrus.Logger
}

// Forwarder handles every inbound notification on central links.
type Forwarder struct {
	opts     Options
	received throughput.Milestones
	relayed  throughput.Milestones
	dropped  uint64
	done     uint64
	logger   *logrus.Logger
}

// New creates a Forwarder.
func New(opts Options) *Forwarder {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.RunID == nil {
		opts.RunID = func() string { return "" }
	}
	return &Forwarder{opts: opts, logger: logger}
}

// threshold is the received byte count that completes a transfer.
func (f *Forwarder) threshold() uint64 {
	return 3 * uint64(f.opts.TransferBytes)
}

// OnNotification accounts n and forwards the sender's byte count when the
// board is a relay.
func (f *Forwarder) OnNotification(ev event.Notification) Outcome {
	var out Outcome

	out.Milestones = f.received.Add(ev.Len)
	for i := 0; i < out.Milestones; i++ {
		f.opts.Indicator.Toggle(indicator.Progress)
	}
	if out.Milestones > 0 {
		f.logger.WithFields(logrus.Fields{
			"handle": ev.Handle,
			"kbytes": f.received.KB(),
		}).Info("Received kbytes")
	}

	if out.Milestones > 0 && uint64(f.received.KB())*throughput.KB >= f.threshold() {
		res := f.complete()
		out.Completed = true
		out.Result = &res
	}

	if f.opts.Role() == config.RoleRelay {
		out.RelayAttempted, out.Relayed = f.forward(ev)
	}
	return out
}

func (f *Forwarder) complete() throughput.Result {
	ms := f.opts.Counter.Stop()
	kb := f.received.KB()
	f.opts.Indicator.Off(indicator.Progress)

	res := throughput.Result{
		RunID:    f.opts.RunID(),
		Kind:     throughput.KindReceived,
		KB:       kb,
		Elapsed:  time.Duration(ms) * time.Millisecond,
		Kbps:     throughput.Kbps(kb, ms),
		Finished: time.Now(),
	}
	f.done++

	f.logger.WithFields(logrus.Fields{
		"run_id":     res.RunID,
		"kbytes":     kb,
		"elapsed_ms": ms,
		"kbps":       res.Kbps,
	}).Info("Transfer complete")

	if f.opts.History != nil {
		if err := f.opts.History.Add(res); err != nil {
			f.logger.WithError(err).Warn("Failed to record result")
		}
	}

	for _, c := range f.opts.Registry.Centrals() {
		if err := f.opts.Stack.ReadBack(c.Handle); err != nil {
			f.logger.WithFields(logrus.Fields{
				"handle": c.Handle,
				"status": stack.StatusOf(err),
			}).WithError(err).Error("Read-back request failed")
		}
	}

	f.received.Reset()
	return res
}

func (f *Forwarder) forward(ev event.Notification) (attempted, sent bool) {
	out, ok := f.opts.Registry.Peripheral()
	if !ok {
		f.logger.WithFields(logrus.Fields{
			"handle": ev.Handle,
			"status": stack.StatusInvalidState,
		}).Error("No peripheral link to relay to")
		return false, false
	}

	// an empty inbound notification is still relayed as an empty one
	n := max(min(ev.Len, PayloadSize), 0)
	payload := EncodePayload(ev.BytesSent, true)

	if err := f.opts.Stack.Notify(out.Handle, payload[:n]); err != nil {
		f.dropped++
		entry := f.logger.WithFields(logrus.Fields{
			"handle": out.Handle,
			"status": stack.StatusOf(err),
		}).WithError(err)
		if errors.Is(err, stack.ErrQueueFull) {
			entry.Warn("Relay notification dropped")
		} else {
			entry.Error("Relay notification failed")
		}
		return true, false
	}

	if f.relayed.Add(n) > 0 {
		f.logger.WithField("kbytes", f.relayed.KB()).Info("Relayed kbytes to collector")
	}
	return true, true
}

// Stats returns the current counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		ReceivedKB:   f.received.KB(),
		ReceivedTail: f.received.Pending(),
		RelayedKB:    f.relayed.KB(),
		RelayedBytes: f.relayed.Total(),
		RelayDropped: f.dropped,
		Completions:  f.done,
	}
}

// Reset zeroes received and relayed counters at a test boundary.
func (f *Forwarder) Reset() {
	f.received.Reset()
	f.relayed.Reset()
	f.dropped = 0
}
