// Package goble implements the relay's stack interface on top of go-ble.
//
// go-ble hides several link layer procedures (PHY update, data length
// update, connection parameter negotiation). The adapter completes those
// requests locally and reports them with the same events a full controller
// would send, so the dispatcher sees one event model on every backend.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/groutine"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
)

// DefaultDialTimeout bounds a connection request.
const DefaultDialTimeout = 10 * time.Second

// Options configures an Adapter.
type Options struct {
	Device ble.Device
	// Name is advertised as the complete local name.
	Name string
	// Sink receives every event. It may block; the adapter calls it from its
	// own goroutines only.
	Sink func(event.Event)
	// Params returns the staged test parameters.
	Params      func() config.TestParams
	NotifyQueue int
	DialTimeout time.Duration
	Logger      *logrus.Logger
}

// Adapter drives a go-ble device.
type Adapter struct {
	dev    ble.Device
	name   string
	sink   func(event.Event)
	params func() config.TestParams
	logger *logrus.Logger

	notifyQueue int
	dialTimeout time.Duration

	links    *linkTable
	readBack atomic.Uint32
	dialing  atomic.Bool

	mu         sync.Mutex
	stopScan   context.CancelFunc
	stopAdv    context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	goroutines groutine.Group
}

var _ stack.Stack = (*Adapter)(nil)

// New registers the throughput service on the device and returns the adapter.
func New(opts Options) (*Adapter, error) {
	if opts.Device == nil {
		return nil, errors.New("goble: device is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("goble: event sink is required")
	}
	if opts.Params == nil {
		def := config.DefaultConfig().Test
		opts.Params = func() config.TestParams { return def }
	}
	if opts.NotifyQueue <= 0 {
		opts.NotifyQueue = 8
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	a := &Adapter{
		dev:         opts.Device,
		name:        opts.Name,
		sink:        opts.Sink,
		params:      opts.Params,
		logger:      logger,
		notifyQueue: opts.NotifyQueue,
		dialTimeout: opts.DialTimeout,
		links:       newLinkTable(),
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if err := a.dev.AddService(a.newService()); err != nil {
		return nil, fmt.Errorf("failed to register throughput service: %w", stack.NormalizeError("add service", err))
	}
	return a, nil
}

// Close stops every procedure, drops all links and waits for the adapter's
// goroutines.
func (a *Adapter) Close() error {
	_ = a.StopScan()
	_ = a.StopAdvertising()
	for _, l := range a.links.all() {
		a.closeLink(l, stack.HCILocalHostTerminated)
	}
	a.cancel()
	err := a.dev.Stop()
	a.goroutines.Wait()
	return stack.NormalizeError("stop device", err)
}

// emit delivers ev from a goroutine, so Stack methods called by the
// dispatcher never block on its own queue.
func (a *Adapter) emit(ev event.Event) {
	a.goroutines.Go(a.ctx, "ble-emit", func(context.Context) {
		a.sink(ev)
	})
}

func (a *Adapter) StartScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopScan != nil {
		return stack.NewError("start scan", stack.StatusInvalidState, "already scanning")
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.stopScan = cancel

	a.goroutines.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
			a.sink(advReport(adv))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(stack.NormalizeError("scan", err)).Error("Scan stopped")
		}
	})
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopScan == nil {
		return nil
	}
	a.stopScan()
	a.stopScan = nil
	return nil
}

func (a *Adapter) StartAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopAdv != nil {
		return stack.NewError("start advertising", stack.StatusInvalidState, "already advertising")
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.stopAdv = cancel

	a.goroutines.Go(ctx, "ble-advertise", func(ctx context.Context) {
		err := a.dev.AdvertiseNameAndServices(ctx, a.name, ServiceUUID)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(stack.NormalizeError("advertise", err)).Error("Advertising stopped")
		}
	})
	return nil
}

func (a *Adapter) StopAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopAdv == nil {
		return nil
	}
	a.stopAdv()
	a.stopAdv = nil
	return nil
}

// Connect dials addr. The outcome arrives as Connected, or as Disconnected
// for a handle that was never reported connected.
func (a *Adapter) Connect(addr string, params stack.ConnParams) error {
	if !a.dialing.CompareAndSwap(false, true) {
		return stack.NewError("connect", stack.StatusBusy, "a connection request is in flight")
	}
	h := a.links.allocate()

	a.goroutines.Go(a.ctx, "ble-dial", func(ctx context.Context) {
		defer a.dialing.Store(false)

		dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
		defer cancel()

		client, err := a.dev.Dial(dialCtx, ble.NewAddr(addr))
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"peer":   addr,
				"handle": h,
			}).WithError(stack.NormalizeError("dial", err)).Warn("Connection failed")
			a.sink(event.Disconnected{Handle: h, Reason: stack.HCIConnectionTimeout})
			return
		}

		lctx, lcancel := context.WithCancel(ctx)
		l := &peerLink{handle: h, role: stack.RoleCentral, peer: addr, client: client, cancel: lcancel}
		a.links.add(l)
		a.sink(event.Connected{Handle: h, Role: stack.RoleCentral, Peer: addr, Params: params})

		p := a.params()
		if mtu, err := client.ExchangeMTU(int(p.ATTMTU)); err != nil {
			a.logger.WithField("handle", h).WithError(err).Warn("ATT MTU exchange failed")
		} else {
			a.sink(event.MTUUpdated{Handle: h, MTU: uint16(mtu)})
		}
		a.sink(event.DataLengthUpdated{Handle: h, Length: p.DataLength()})

		a.awaitDisconnect(lctx, client)
		a.dropLink(l, stack.HCIConnectionTimeout)
	})
	return nil
}

// awaitDisconnect blocks until the client reports a disconnect or ctx ends.
// Backends without a disconnect channel end with ctx only.
func (a *Adapter) awaitDisconnect(ctx context.Context, client ble.Client) {
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		select {
		case <-dc.Disconnected():
		case <-ctx.Done():
		}
		return
	}
	<-ctx.Done()
}

func (a *Adapter) Disconnect(h stack.Handle, reason uint8) error {
	l, ok := a.links.get(h)
	if !ok {
		return stack.NewError("disconnect", stack.StatusNotFound, "no link %s", h)
	}
	a.goroutines.Go(a.ctx, "ble-disconnect", func(context.Context) {
		a.closeLink(l, reason)
	})
	return nil
}

// closeLink asks go-ble to tear the link down. The link's own goroutine
// reports Disconnected once go-ble confirms.
func (a *Adapter) closeLink(l *peerLink, reason uint8) {
	l.reason.CompareAndSwap(0, uint32(reason))
	var err error
	switch l.role {
	case stack.RoleCentral:
		err = l.client.CancelConnection()
	case stack.RolePeripheral:
		err = l.conn.Close()
	}
	if err != nil {
		a.logger.WithField("handle", l.handle).WithError(stack.NormalizeError("disconnect", err)).Debug("Disconnect")
	}
	if l.cancel != nil {
		l.cancel()
	}
}

// dropLink removes l and reports the disconnect once.
func (a *Adapter) dropLink(l *peerLink, fallback uint8) {
	l.once.Do(func() {
		a.links.remove(l.handle)
		if l.tx != nil {
			l.tx.reset()
		}
		a.sink(event.Disconnected{Handle: l.handle, Reason: l.closeReason(fallback)})
	})
}

// RequestPHY completes immediately: the go-ble host leaves PHY selection to
// the controller.
func (a *Adapter) RequestPHY(h stack.Handle, phys stack.PHYSet) error {
	if _, ok := a.links.get(h); !ok {
		return stack.NewError("request phy", stack.StatusNotFound, "no link %s", h)
	}
	a.emit(event.PHYUpdate{Handle: h, Status: stack.HCISuccess, TxPHY: phys, RxPHY: phys})
	return nil
}

// UpdateConnParams completes immediately with the requested parameters.
func (a *Adapter) UpdateConnParams(h stack.Handle, params stack.ConnParams) error {
	if _, ok := a.links.get(h); !ok {
		return stack.NewError("update conn params", stack.StatusNotFound, "no link %s", h)
	}
	a.emit(event.ConnParamUpdate{Handle: h, Params: params})
	return nil
}

// SecureLink reports the link as already secured; pairing is left to the
// host's bonding agent.
func (a *Adapter) SecureLink(h stack.Handle) error {
	if _, ok := a.links.get(h); !ok {
		return stack.NewError("secure link", stack.StatusNotFound, "no link %s", h)
	}
	return stack.NewError("secure link", stack.StatusInvalidState, "pairing is handled by the host")
}

// Stats returns notification queue counters of the peripheral link.
func (a *Adapter) Stats() (queued, dropped uint64) {
	for _, l := range a.links.all() {
		if l.tx != nil {
			queued += l.tx.queued.Load()
			dropped += l.tx.dropped.Load()
		}
	}
	return queued, dropped
}
