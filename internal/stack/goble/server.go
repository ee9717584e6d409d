package goble

import (
	"context"
	"encoding/binary"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/relay"
	"github.com/srg/amtrelay/internal/stack"
)

// Throughput service and characteristics.
var (
	ServiceUUID  = ble.MustParse("bb4a1523-ad03-415d-a96c-9d6cddda8304")
	DataUUID     = ble.MustParse("bb4a1524-ad03-415d-a96c-9d6cddda8304")
	ReadBackUUID = ble.MustParse("bb4a1525-ad03-415d-a96c-9d6cddda8304")
)

func (a *Adapter) newService() *ble.Service {
	svc := ble.NewService(ServiceUUID)

	data := svc.NewCharacteristic(DataUUID)
	data.HandleNotify(ble.NotifyHandlerFunc(a.serveNotify))

	rb := svc.NewCharacteristic(ReadBackUUID)
	rb.HandleRead(ble.ReadHandlerFunc(a.serveReadBack))
	return svc
}

// serveNotify runs for the lifetime of a collector's subscription. go-ble
// exposes the peripheral side of a link only through its requests, so the
// subscription is where the peripheral link begins and ends.
func (a *Adapter) serveNotify(req ble.Request, n ble.Notifier) {
	conn := req.Conn()
	peer := conn.RemoteAddr().String()

	l, known := a.links.byAddr(peer)
	if !known {
		ctx, cancel := context.WithCancel(a.ctx)
		l = &peerLink{
			handle: a.links.allocate(),
			role:   stack.RolePeripheral,
			peer:   peer,
			conn:   conn,
			tx:     newTxQueue(a.notifyQueue, relay.PayloadSize),
			cancel: cancel,
		}
		a.links.add(l)
		a.sink(event.Connected{Handle: l.handle, Role: stack.RolePeripheral, Peer: peer, Params: stack.DefaultConnParams()})
		a.sink(event.MTUUpdated{Handle: l.handle, MTU: uint16(conn.TxMTU())})
		a.sink(event.DataLengthUpdated{Handle: l.handle, Length: a.params().DataLength()})

		a.goroutines.Go(ctx, "ble-peripheral-link", func(ctx context.Context) {
			a.awaitConn(ctx, conn)
			a.dropLink(l, stack.HCIConnectionTimeout)
		})
	}

	a.sink(event.NotificationsEnabled{Handle: l.handle})
	a.logger.WithFields(logrus.Fields{
		"handle": l.handle,
		"peer":   peer,
		"cap":    n.Cap(),
	}).Debug("Collector subscribed")

	a.writeLoop(l, n)

	if _, still := a.links.get(l.handle); still {
		a.sink(event.NotificationsDisabled{Handle: l.handle})
	}
}

func (a *Adapter) awaitConn(ctx context.Context, conn ble.Conn) {
	select {
	case <-conn.Disconnected():
	case <-ctx.Done():
	}
}

// writeLoop drains l's TX queue into n until the subscription ends.
func (a *Adapter) writeLoop(l *peerLink, n ble.Notifier) {
	for {
		for l.tx.pending() {
			frame, ok := l.tx.pop()
			if !ok {
				break
			}
			if _, err := n.Write(frame); err != nil {
				a.logger.WithField("handle", l.handle).WithError(stack.NormalizeError("notify", err)).Debug("Notification write failed")
				return
			}
		}
		select {
		case <-n.Context().Done():
			return
		case <-l.tx.ready:
		}
	}
}

func (a *Adapter) serveReadBack(_ ble.Request, rsp ble.ResponseWriter) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], a.readBack.Load())
	if _, err := rsp.Write(b[:]); err != nil {
		a.logger.WithError(err).Debug("Read-back response failed")
	}
}

// Notify queues payload for the collector on h.
func (a *Adapter) Notify(h stack.Handle, payload []byte) error {
	l, ok := a.links.get(h)
	if !ok {
		return stack.NewError("notify", stack.StatusNotFound, "no link %s", h)
	}
	if l.tx == nil {
		return stack.NewError("notify", stack.StatusInvalidState, "link %s is not a peripheral link", h)
	}
	if len(payload) > relay.PayloadSize {
		payload = payload[:relay.PayloadSize]
	}
	return l.tx.push(payload)
}

func (a *Adapter) SetReadBack(value uint32) error {
	a.readBack.Store(value)
	return nil
}

// ReplyAuthorize is a no-op: go-ble answers queued writes itself and never
// asks the application to authorize them.
func (a *Adapter) ReplyAuthorize(h stack.Handle, kind stack.AuthorizeKind, status uint16) error {
	a.logger.WithFields(logrus.Fields{
		"handle": h,
		"kind":   kind,
		"status": status,
	}).Debug("Authorization reply not forwarded")
	return nil
}
