// Package discovery brings central links from connected to subscribed.
package discovery

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
)

// Stack is the part of the BLE host the orchestrator needs.
type Stack interface {
	DiscoverService(h stack.Handle) error
	SecureLink(h stack.Handle) error
	EnableNotifications(h stack.Handle) error
}

// Orchestrator runs discovery, optional security and subscription for each
// central link. Nothing is retried; any unexpected failure is fatal.
type Orchestrator struct {
	stack    Stack
	registry *link.Registry
	role     func() config.BoardRole
	logger   *logrus.Logger
}

func New(s Stack, registry *link.Registry, role func() config.BoardRole, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{stack: s, registry: registry, role: role, logger: logger}
}

// Start begins service discovery on a freshly connected central link.
func (o *Orchestrator) Start(h stack.Handle) error {
	l, ok := o.registry.Get(h)
	if !ok || l.Role != stack.RoleCentral {
		return fmt.Errorf("discovery on %s: %w", h, stack.ErrNotFound)
	}
	if err := o.stack.DiscoverService(h); err != nil {
		return fault.Fatal("discover service", err)
	}
	o.logger.WithField("handle", h).Debug("Service discovery started")
	return nil
}

// OnDiscoveryComplete secures the link when the board relays, then enables
// notifications on the peer's throughput characteristic.
func (o *Orchestrator) OnDiscoveryComplete(h stack.Handle) error {
	if !o.registry.MarkDiscovered(h) {
		o.logger.WithField("handle", h).Warn("Discovery completed on unknown link")
		return nil
	}
	o.logger.WithField("handle", h).Info("Throughput service discovered at peer")

	if o.role() == config.RoleRelay {
		err := o.stack.SecureLink(h)
		switch {
		case err == nil:
			o.logger.WithField("handle", h).Info("Link secured")
		case errors.Is(err, stack.ErrInvalidState):
			o.logger.WithField("handle", h).Debug("Link already secured")
		default:
			return fault.Fatal("secure link", err)
		}
	}

	if err := o.stack.EnableNotifications(h); err != nil {
		return fault.Fatal("enable notifications", err)
	}
	o.registry.MarkSubscribed(h)
	return nil
}
