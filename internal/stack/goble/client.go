package goble

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/relay"
	"github.com/srg/amtrelay/internal/stack"
)

func (a *Adapter) central(op string, h stack.Handle) (*peerLink, error) {
	l, ok := a.links.get(h)
	if !ok {
		return nil, stack.NewError(op, stack.StatusNotFound, "no link %s", h)
	}
	if l.client == nil {
		return nil, stack.NewError(op, stack.StatusInvalidState, "link %s is not a central link", h)
	}
	return l, nil
}

// clientFailure reports a failed client procedure. Timeouts take the GATT
// timeout path; anything else drops the link.
func (a *Adapter) clientFailure(l *peerLink, op string, err error) {
	err = stack.NormalizeError(op, err)
	a.logger.WithFields(logrus.Fields{
		"handle": l.handle,
		"status": stack.StatusOf(err),
	}).WithError(err).Error("GATT client procedure failed")

	if errors.Is(err, stack.ErrTimeout) {
		a.sink(event.GATTTimeout{Handle: l.handle})
		return
	}
	a.closeLink(l, stack.HCIRemoteUserTerminated)
}

// DiscoverService looks up the throughput service on the peer.
func (a *Adapter) DiscoverService(h stack.Handle) error {
	l, err := a.central("discover service", h)
	if err != nil {
		return err
	}

	a.goroutines.Go(a.ctx, "ble-discovery", func(context.Context) {
		profile, err := l.client.DiscoverProfile(true)
		if err != nil {
			a.clientFailure(l, "discover profile", err)
			return
		}
		data, readBack := findThroughputChars(profile)
		if data == nil || readBack == nil {
			a.clientFailure(l, "discover service", stack.NewError("discover service", stack.StatusNotFound,
				"peer %s has no throughput service", l.peer))
			return
		}
		l.data, l.readBack = data, readBack
		a.sink(event.DiscoveryComplete{Handle: h})
	})
	return nil
}

func findThroughputChars(p *ble.Profile) (data, readBack *ble.Characteristic) {
	if p == nil {
		return nil, nil
	}
	for _, s := range p.Services {
		if !s.UUID.Equal(ServiceUUID) {
			continue
		}
		for _, c := range s.Characteristics {
			switch {
			case c.UUID.Equal(DataUUID):
				data = c
			case c.UUID.Equal(ReadBackUUID):
				readBack = c
			}
		}
	}
	return data, readBack
}

// EnableNotifications subscribes to the peer's data characteristic.
func (a *Adapter) EnableNotifications(h stack.Handle) error {
	l, err := a.central("enable notifications", h)
	if err != nil {
		return err
	}
	if l.data == nil {
		return stack.NewError("enable notifications", stack.StatusInvalidState, "service not discovered on %s", h)
	}

	a.goroutines.Go(a.ctx, "ble-subscribe", func(context.Context) {
		err := l.client.Subscribe(l.data, false, func(b []byte) {
			count, _ := relay.DecodeCount(b)
			a.sink(event.Notification{Handle: h, Len: len(b), BytesSent: count})
		})
		if err != nil {
			a.clientFailure(l, "subscribe", err)
		}
	})
	return nil
}

// ReadBack reads the peer's read-back characteristic.
func (a *Adapter) ReadBack(h stack.Handle) error {
	l, err := a.central("read back", h)
	if err != nil {
		return err
	}
	if l.readBack == nil {
		return stack.NewError("read back", stack.StatusInvalidState, "service not discovered on %s", h)
	}

	a.goroutines.Go(a.ctx, "ble-read-back", func(context.Context) {
		b, err := l.client.ReadCharacteristic(l.readBack)
		if err != nil {
			a.clientFailure(l, "read back", err)
			return
		}
		var v uint32
		if len(b) >= 4 {
			v = binary.LittleEndian.Uint32(b)
		}
		a.sink(event.ReadBackResponse{Handle: h, Value: v})
	})
	return nil
}
