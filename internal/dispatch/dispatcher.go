// Package dispatch owns the relay's runtime state and is the only consumer of
// stack events.
//
// All state (link registry, readiness gate, counters) is touched from the
// dispatcher loop only. Stack goroutines, the console and the stream timer
// talk to it by queueing events.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/discovery"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/gate"
	"github.com/srg/amtrelay/internal/groutine"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/queue"
	"github.com/srg/amtrelay/internal/relay"
	"github.com/srg/amtrelay/internal/server"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/throughput"
	"github.com/srg/amtrelay/pkg/config"
)

// DefaultQueueSize is the event queue capacity used by cmd/amtrelay.
const DefaultQueueSize = 256

// Options configures a Dispatcher.
type Options struct {
	Stack     stack.Stack
	Config    *config.Config
	Store     *config.Store
	Queue     *queue.Queue[event.Event]
	Indicator indicator.Indicator
	Clock     throughput.Clock
	Logger    *logrus.Logger
}

// Dispatcher is the single owner of links, readiness and throughput state.
type Dispatcher struct {
	stack  stack.Stack
	cfg    *config.Config
	store  *config.Store
	queue  *queue.Queue[event.Event]
	leds   indicator.Indicator
	logger *logrus.Logger

	registry  *link.Registry
	gate      *gate.Gate
	discovery *discovery.Orchestrator
	forwarder *relay.Forwarder
	source    *server.Source
	counter   *throughput.Counter
	history   *throughput.History

	runID       string
	connecting  bool
	scanning    bool
	advertising bool
	// closing holds links we asked to disconnect and still wait for.
	closing map[stack.Handle]struct{}

	// ctx is the Run context; only the loop reads it.
	ctx        context.Context
	stopStream context.CancelFunc

	// alive bounds blocking Emit calls to the dispatcher's lifetime.
	alive context.Context
	die   context.CancelFunc
}

// New wires a Dispatcher and its components.
func New(opts Options) (*Dispatcher, error) {
	if opts.Stack == nil {
		return nil, errors.New("dispatcher requires a stack")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Store == nil {
		opts.Store = config.NewStore(opts.Config)
	}
	if opts.Queue == nil {
		opts.Queue = queue.New[event.Event](DefaultQueueSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Indicator == nil {
		opts.Indicator = indicator.New(logger)
	}

	history, err := throughput.NewHistory(opts.Config.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("result history: %w", err)
	}

	d := &Dispatcher{
		stack:    opts.Stack,
		cfg:      opts.Config,
		store:    opts.Store,
		queue:    opts.Queue,
		leds:     opts.Indicator,
		logger:   logger,
		registry: link.NewRegistry(opts.Config.CentralLinks, opts.Config.PeripheralLinks),
		counter:  throughput.NewCounter(opts.Clock),
		history:  history,
		closing:  make(map[stack.Handle]struct{}),
		ctx:      context.Background(),
	}
	d.alive, d.die = context.WithCancel(context.Background())

	d.gate = gate.New(d.store.Role, logger)
	d.discovery = discovery.New(d.stack, d.registry, d.store.Role, logger)
	d.forwarder = relay.New(relay.Options{
		Stack:         d.stack,
		Registry:      d.registry,
		Counter:       d.counter,
		Indicator:     d.leds,
		History:       d.history,
		Role:          d.store.Role,
		RunID:         d.currentRunID,
		TransferBytes: d.cfg.TransferBytes,
		Logger:        logger,
	})
	d.source = server.New(server.Options{
		Stack:         d.stack,
		Registry:      d.registry,
		Gate:          d.gate,
		Counter:       d.counter,
		Indicator:     d.leds,
		History:       d.history,
		RunID:         d.currentRunID,
		TransferBytes: d.cfg.TransferBytes,
		Logger:        logger,
	})
	return d, nil
}

// Queue returns the event queue producers write to.
func (d *Dispatcher) Queue() *queue.Queue[event.Event] {
	return d.queue
}

// Emit queues ev, blocking while the queue is full. It is the sink handed to
// the stack adapter.
func (d *Dispatcher) Emit(ev event.Event) {
	if err := d.queue.Send(d.alive, ev); err != nil {
		d.logger.WithFields(logrus.Fields{
			"source": ev.Source(),
			"type":   fmt.Sprintf("%T", ev),
		}).WithError(err).Warn("Event dropped")
	}
}

// Run consumes events until ctx ends or a fatal error occurs. A relay starts
// advertising and scanning right away; other roles wait for the run command.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.ctx = ctx
	defer d.die()
	defer d.haltStream()

	if d.store.Role() == config.RoleRelay {
		d.resume()
	}

	for {
		ev, ok := d.queue.Receive(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := d.Dispatch(ev); err != nil {
			if fault.IsFatal(err) {
				d.logger.WithError(err).Error("Fatal stack error")
				return err
			}
			d.logger.WithError(err).Warn("Event handling failed")
		}
	}
}

// Dispatch handles one event and then checks whether a test can start.
func (d *Dispatcher) Dispatch(ev event.Event) error {
	if err := d.handle(ev); err != nil {
		return err
	}
	if d.gate.TryStart() {
		d.startTest()
	}
	return nil
}

func (d *Dispatcher) handle(ev event.Event) error {
	switch e := ev.(type) {
	case event.AdvReport:
		return d.onAdvReport(e)
	case event.Connected:
		return d.onConnected(e)
	case event.Disconnected:
		return d.onDisconnected(e)
	case event.ConnParamUpdate:
		return d.onConnParamUpdate(e)
	case event.ConnParamUpdateRequest:
		return d.onConnParamUpdateRequest(e)
	case event.PHYUpdate:
		return d.onPHYUpdate(e)
	case event.PHYUpdateRequest:
		return d.onPHYUpdateRequest(e)
	case event.GATTTimeout:
		return d.onGATTTimeout(e)
	case event.AuthorizeRequest:
		return d.onAuthorizeRequest(e)
	case event.MTUUpdated:
		return d.onMTUUpdated(e)
	case event.DataLengthUpdated:
		return d.onDataLengthUpdated(e)
	case event.DiscoveryComplete:
		return d.discovery.OnDiscoveryComplete(e.Handle)
	case event.Notification:
		return d.onNotification(e)
	case event.ReadBackResponse:
		return d.onReadBackResponse(e)
	case event.NotificationsEnabled:
		return d.onNotificationsEnabled(e)
	case event.NotificationsDisabled:
		d.source.OnNotificationsDisabled(e.Handle)
		return nil
	case event.Command:
		d.onCommand(e)
		return nil
	case event.StreamTick:
		d.onStreamTick()
		return nil
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
}

func (d *Dispatcher) currentRunID() string {
	return d.runID
}

// startTest takes the gate's Ready → Running transition into a measurement.
func (d *Dispatcher) startTest() {
	d.runID = throughput.NewRunID()
	d.counter.Start()
	d.forwarder.Reset()
	d.logger.WithFields(logrus.Fields{
		"run_id": d.runID,
		"role":   d.store.Role(),
	}).Info("Test running")

	d.source.Start()
	if !d.source.Running() {
		return
	}
	d.source.Pump()
	d.startStream()
}

func (d *Dispatcher) startStream() {
	interval := d.cfg.StreamInterval
	if interval <= 0 || d.stopStream != nil {
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.stopStream = cancel
	groutine.Go(ctx, "stream-ticker", func(ctx context.Context) {
		streamTicker(ctx, interval, d.queue)
	})
}

// streamTicker queues a StreamTick every interval. Ticks are skipped while
// the queue is full; the next one catches up.
func streamTicker(ctx context.Context, interval time.Duration, q *queue.Queue[event.Event]) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			q.TrySend(event.StreamTick{})
		}
	}
}

func (d *Dispatcher) haltStream() {
	if d.stopStream != nil {
		d.stopStream()
		d.stopStream = nil
	}
}
