package dispatch

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/indicator"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
)

// terminate ends the current test cycle from any state. Remaining links are
// disconnected; once none is left the board goes back to looking for peers.
func (d *Dispatcher) terminate() {
	d.haltStream()
	d.gate.Terminate()
	d.forwarder.Reset()
	d.source.Reset()
	d.runID = ""

	for _, l := range d.registry.All() {
		if _, ok := d.closing[l.Handle]; ok {
			continue
		}
		d.closing[l.Handle] = struct{}{}
		d.logger.WithField("handle", l.Handle).Info("Disconnecting")
		err := d.stack.Disconnect(l.Handle, stack.HCIRemoteUserTerminated)
		switch {
		case err == nil:
		case errors.Is(err, stack.ErrNotFound):
			// already gone, no disconnect event will follow
			d.registry.Remove(l.Handle)
			delete(d.closing, l.Handle)
		default:
			d.logger.WithFields(logrus.Fields{
				"handle": l.Handle,
				"status": stack.StatusOf(err),
			}).WithError(err).Error("Disconnect failed")
		}
	}
	if d.registry.Len() == 0 {
		d.resume()
	}
}

// resume starts advertising and scanning according to the board role.
func (d *Dispatcher) resume() {
	role := d.store.Role()
	if role.Advertises() && !d.registry.PeripheralsFull() {
		d.startAdvertising()
	}
	if role.Scans() && !d.registry.CentralsFull() {
		d.startScan()
	}
}

func (d *Dispatcher) startScan() {
	if d.scanning || d.connecting {
		return
	}
	if err := d.stack.StartScan(); err != nil {
		d.logger.WithField("status", stack.StatusOf(err)).WithError(err).Error("Failed to start scanning")
		return
	}
	d.scanning = true
	d.leds.On(indicator.ScanAdv)
	d.logger.WithField("target", d.cfg.TargetName).Info("Scanning")
}

func (d *Dispatcher) stopScan() {
	if !d.scanning {
		return
	}
	d.scanning = false
	if err := d.stack.StopScan(); err != nil {
		d.logger.WithError(err).Debug("Stop scan")
	}
}

func (d *Dispatcher) startAdvertising() {
	if d.advertising {
		return
	}
	if err := d.stack.StartAdvertising(); err != nil {
		d.logger.WithField("status", stack.StatusOf(err)).WithError(err).Error("Failed to start advertising")
		return
	}
	d.advertising = true
	d.leds.On(indicator.ScanAdv)
	d.logger.WithField("name", d.cfg.DeviceName).Info("Advertising")
}

func (d *Dispatcher) stopAdvertising() {
	if !d.advertising {
		return
	}
	d.advertising = false
	if err := d.stack.StopAdvertising(); err != nil {
		d.logger.WithError(err).Debug("Stop advertising")
	}
}

func (d *Dispatcher) onCommand(c event.Command) {
	var reply event.Reply

	switch c.Kind {
	case event.CmdRun:
		role := d.store.Role()
		if role == config.RoleNotSelected {
			reply.Err = stack.NewError("run", stack.StatusInvalidState, "board role not selected")
			break
		}
		d.logger.WithField("role", role).Info("Preparing the test")
		d.resume()
	case event.CmdTerminate:
		d.terminate()
	case event.CmdStop:
		res, ok := d.source.Stop()
		if !ok {
			reply.Err = stack.NewError("stop", stack.StatusInvalidState, "no stream is running")
			break
		}
		d.haltStream()
		reply.Value = res
	case event.CmdStatus:
		reply.Value = d.Status()
	case event.CmdHistory:
		reply.Value, reply.Err = d.history.List()
	default:
		reply.Err = stack.NewError("command", stack.StatusUnsupported, "unknown command %s", c.Kind)
	}

	if c.Reply != nil {
		select {
		case c.Reply <- reply:
		default:
			d.logger.WithField("command", c.Kind).Warn("Command reply dropped")
		}
	}
}
