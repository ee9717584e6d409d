package dispatch

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/advdata"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/gate"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
)

func (d *Dispatcher) onAdvReport(e event.AdvReport) error {
	if d.connecting || !d.store.Role().Scans() || d.registry.CentralsFull() {
		return nil
	}
	if !advdata.MatchName(e.Data, d.cfg.TargetName) {
		return nil
	}

	d.logger.WithFields(logrus.Fields{
		"peer": e.Addr,
		"rssi": e.RSSI,
		"name": d.cfg.TargetName,
	}).Info("Target found, sending a connection request")

	if err := d.stack.Connect(e.Addr, stack.DefaultConnParams()); err != nil {
		d.logger.WithFields(logrus.Fields{
			"peer":   e.Addr,
			"status": stack.StatusOf(err),
		}).WithError(err).Error("Connection request rejected")
		return nil
	}
	d.connecting = true
	// the controller stops scanning while it initiates
	d.scanning = false
	return nil
}

func (d *Dispatcher) onConnected(e event.Connected) error {
	if e.Role == stack.RoleCentral {
		d.connecting = false
	}

	l, err := d.registry.Add(e.Handle, e.Role, e.Peer, d.store.Snapshot(), e.Params.MaxInterval)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"handle": e.Handle,
			"role":   e.Role,
		}).WithError(err).Error("Link refused")
		if derr := d.stack.Disconnect(e.Handle, stack.HCIRemoteUserTerminated); derr != nil {
			d.logger.WithField("handle", e.Handle).WithError(derr).Error("Disconnect failed")
		}
		return nil
	}

	d.logger.WithFields(logrus.Fields{
		"handle": l.Handle,
		"role":   l.Role,
		"peer":   l.Peer,
	}).Info("Connected")

	switch l.Role {
	case stack.RoleCentral:
		d.stopScan()
		d.stopAdvertising()
		d.leds.AllOff()
		if err := d.discovery.Start(l.Handle); err != nil {
			return err
		}
		if !d.registry.CentralsFull() {
			d.startScan()
		}
	case stack.RolePeripheral:
		if err := d.stack.RequestPHY(l.Handle, l.Params.PHYs); err != nil {
			return fault.Fatal("request phy", err)
		}
	}

	if d.store.Role() == config.RoleRelay {
		d.stopAdvertising()
		if !d.registry.PeripheralsFull() {
			d.logger.Info("Relay still advertises")
			d.startAdvertising()
		}
	}
	if d.registry.CentralsFull() && d.registry.PeripheralsFull() {
		d.leds.Off(indicator.ScanAdv)
	}
	return nil
}

func (d *Dispatcher) onDisconnected(e event.Disconnected) error {
	l, ok := d.registry.Remove(e.Handle)
	_, wasClosing := d.closing[e.Handle]
	delete(d.closing, e.Handle)
	if !ok {
		if wasClosing {
			d.logger.WithField("handle", e.Handle).Debug("Disconnect for unknown link")
			return nil
		}
		return d.onConnectFailed(e)
	}

	fields := logrus.Fields{"handle": e.Handle, "reason": e.Reason, "role": l.Role}
	if d.gate.Running() {
		d.logger.WithFields(fields).Warn("Disconnected while test was running")
	} else {
		d.logger.WithFields(fields).Info("Disconnected")
	}

	if l.Role == stack.RolePeripheral {
		d.source.Reset()
	}
	d.leds.AllOff()
	d.terminate()
	return nil
}

// onConnectFailed handles the disconnect reported for a connection request
// that never completed. Established links and readiness are left alone.
func (d *Dispatcher) onConnectFailed(e event.Disconnected) error {
	d.connecting = false
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"reason": e.Reason,
		"status": stack.StatusTimeout,
	}).Warn("Connection request failed")

	if d.store.Role().Scans() && !d.registry.CentralsFull() {
		d.startScan()
	}
	return nil
}

func (d *Dispatcher) onConnParamUpdate(e event.ConnParamUpdate) error {
	d.registry.SetInterval(e.Handle, e.Params.MaxInterval)
	d.gate.Set(gate.ConnIntervalConfigured)
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"min":    e.Params.MinInterval,
		"max":    e.Params.MaxInterval,
	}).Info("Connection interval updated")
	return nil
}

func (d *Dispatcher) onConnParamUpdateRequest(e event.ConnParamUpdateRequest) error {
	if err := d.stack.UpdateConnParams(e.Handle, e.Params); err != nil {
		return fault.Fatal("accept connection parameters", err)
	}
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"min":    e.Params.MinInterval,
		"max":    e.Params.MaxInterval,
	}).Info("Connection interval updated upon request")
	return nil
}

func (d *Dispatcher) onPHYUpdate(e event.PHYUpdate) error {
	if e.Status == stack.HCILMPErrorTransactionCollide {
		d.logger.WithField("handle", e.Handle).Debug("LL transaction collision during PHY update")
		return nil
	}
	d.gate.Set(gate.PHYUpdated)

	outcome := "accepted"
	if e.Status != stack.HCISuccess {
		outcome = "rejected"
	}
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"status": e.Status,
		"phy":    e.TxPHY,
	}).Infof("PHY update %s", outcome)
	return nil
}

func (d *Dispatcher) onPHYUpdateRequest(e event.PHYUpdateRequest) error {
	phys := d.store.Snapshot().PHYs
	if l, ok := d.registry.Get(e.Handle); ok {
		phys = l.Params.PHYs
	}
	if err := d.stack.RequestPHY(e.Handle, phys); err != nil {
		return fault.Fatal("answer phy request", err)
	}
	return nil
}

func (d *Dispatcher) onGATTTimeout(e event.GATTTimeout) error {
	d.logger.WithField("handle", e.Handle).Debug("GATT timeout, disconnecting")
	if err := d.stack.Disconnect(e.Handle, stack.HCIRemoteUserTerminated); err != nil {
		return fault.Fatal("disconnect after gatt timeout", err)
	}
	return nil
}

// onAuthorizeRequest refuses queued writes, which the throughput service
// does not support. Other requests need no answer.
func (d *Dispatcher) onAuthorizeRequest(e event.AuthorizeRequest) error {
	if e.Kind == stack.AuthorizeInvalid {
		return nil
	}
	switch e.Op {
	case stack.PrepWriteReq, stack.ExecWriteReqNow, stack.ExecWriteReqCancel:
	default:
		return nil
	}
	if err := d.stack.ReplyAuthorize(e.Handle, e.Kind, stack.GATTFeatureNotSupported); err != nil {
		return fault.Fatal("authorize reply", err)
	}
	return nil
}

func (d *Dispatcher) onMTUUpdated(e event.MTUUpdated) error {
	d.gate.Set(gate.MTUExchanged)
	if out, ok := d.registry.Peripheral(); ok && out.Handle == e.Handle {
		d.source.SetMTU(e.MTU)
	}
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"mtu":    e.MTU,
	}).Info("ATT MTU exchange completed")
	return nil
}

func (d *Dispatcher) onDataLengthUpdated(e event.DataLengthUpdated) error {
	d.gate.Set(gate.DataLengthUpdated)
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"length": e.Length,
	}).Info("Data length updated")
	return nil
}

func (d *Dispatcher) onNotification(e event.Notification) error {
	if d.registry.Role(e.Handle) != stack.RoleCentral {
		d.logger.WithField("handle", e.Handle).Debug("Notification from unknown link dropped")
		return nil
	}
	d.forwarder.OnNotification(e)
	return nil
}

func (d *Dispatcher) onReadBackResponse(e event.ReadBackResponse) error {
	d.logger.WithFields(logrus.Fields{
		"handle": e.Handle,
		"kbps":   e.Value,
	}).Info("Peer throughput of sending data")
	return nil
}

func (d *Dispatcher) onNotificationsEnabled(e event.NotificationsEnabled) error {
	if err := d.source.OnNotificationsEnabled(e.Handle); err != nil {
		d.logger.WithFields(logrus.Fields{
			"handle": e.Handle,
			"status": stack.StatusOf(err),
		}).WithError(err).Error("Connection parameter update failed")
	}
	return nil
}

func (d *Dispatcher) onStreamTick() {
	if !d.gate.Running() || !d.source.Running() {
		d.haltStream()
		return
	}
	d.source.Pump()
}
