// Package link tracks the connections the relay currently holds.
package link

import (
	"errors"
	"fmt"
	"sort"

	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/pkg/config"
)

// MaxHandle is the highest connection handle a controller may assign.
const MaxHandle stack.Handle = 0x0EFF

var (
	ErrHandleRange  = errors.New("connection handle out of range")
	ErrDuplicate    = errors.New("connection handle already registered")
	ErrBudget       = errors.New("link budget exhausted")
	ErrPeripheralIn = errors.New("peripheral slot already taken")
)

// Link is one registered connection.
type Link struct {
	Handle stack.Handle
	Role   stack.Role
	Peer   string

	// Params is the snapshot of test parameters taken when the link came up.
	Params config.TestParams
	// Interval is the connection interval currently in effect, in 1.25 ms units.
	Interval uint16

	DiscoveryPending  bool
	DiscoveryComplete bool
	Subscribed        bool
}

// Registry owns every Link. Other components read copies and request changes
// through its methods.
type Registry struct {
	links           map[stack.Handle]*Link
	peripheral      *stack.Handle
	centralLinks    int
	peripheralLinks int
}

// NewRegistry creates a registry bounded by the given link budgets.
func NewRegistry(centralLinks, peripheralLinks int) *Registry {
	return &Registry{
		links:           make(map[stack.Handle]*Link, centralLinks+peripheralLinks),
		centralLinks:    centralLinks,
		peripheralLinks: peripheralLinks,
	}
}

// Add registers a link. Central links are marked for discovery; a peripheral
// link becomes the output slot.
func (r *Registry) Add(h stack.Handle, role stack.Role, peer string, params config.TestParams, interval uint16) (Link, error) {
	if h > MaxHandle {
		return Link{}, fmt.Errorf("%w: %s", ErrHandleRange, h)
	}
	if _, ok := r.links[h]; ok {
		return Link{}, fmt.Errorf("%w: %s", ErrDuplicate, h)
	}

	switch role {
	case stack.RoleCentral:
		if r.Count(stack.RoleCentral) >= r.centralLinks {
			return Link{}, fmt.Errorf("%w: %d central links", ErrBudget, r.centralLinks)
		}
	case stack.RolePeripheral:
		if r.peripheral != nil {
			return Link{}, fmt.Errorf("%w: %s", ErrPeripheralIn, *r.peripheral)
		}
		if r.peripheralLinks == 0 {
			return Link{}, fmt.Errorf("%w: no peripheral links", ErrBudget)
		}
	default:
		return Link{}, fmt.Errorf("cannot register link %s with role %s", h, role)
	}

	l := &Link{
		Handle:           h,
		Role:             role,
		Peer:             peer,
		Params:           params,
		Interval:         interval,
		DiscoveryPending: role == stack.RoleCentral,
	}
	r.links[h] = l
	if role == stack.RolePeripheral {
		handle := h
		r.peripheral = &handle
	}
	return *l, nil
}

// Remove drops a link and returns what was registered.
func (r *Registry) Remove(h stack.Handle) (Link, bool) {
	l, ok := r.links[h]
	if !ok {
		return Link{}, false
	}
	delete(r.links, h)
	if r.peripheral != nil && *r.peripheral == h {
		r.peripheral = nil
	}
	return *l, true
}

// Get returns a copy of the link for h.
func (r *Registry) Get(h stack.Handle) (Link, bool) {
	if h > MaxHandle {
		return Link{}, false
	}
	l, ok := r.links[h]
	if !ok {
		return Link{}, false
	}
	return *l, true
}

// Role returns the role of h, RoleAbsent when unknown.
func (r *Registry) Role(h stack.Handle) stack.Role {
	if l, ok := r.Get(h); ok {
		return l.Role
	}
	return stack.RoleAbsent
}

// Peripheral returns the active output slot.
func (r *Registry) Peripheral() (Link, bool) {
	if r.peripheral == nil {
		return Link{}, false
	}
	return r.Get(*r.peripheral)
}

// Centrals returns central links ordered by handle.
func (r *Registry) Centrals() []Link {
	out := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		if l.Role == stack.RoleCentral {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// All returns every link ordered by handle.
func (r *Registry) All() []Link {
	out := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Count returns the number of links with the given role.
func (r *Registry) Count(role stack.Role) int {
	n := 0
	for _, l := range r.links {
		if l.Role == role {
			n++
		}
	}
	return n
}

// Len returns the number of registered links.
func (r *Registry) Len() int {
	return len(r.links)
}

// CentralsFull reports whether the central budget is used up.
func (r *Registry) CentralsFull() bool {
	return r.Count(stack.RoleCentral) >= r.centralLinks
}

// PeripheralsFull reports whether the peripheral slot is taken.
func (r *Registry) PeripheralsFull() bool {
	return r.Count(stack.RolePeripheral) >= r.peripheralLinks
}

// MarkDiscovered records completed service discovery.
func (r *Registry) MarkDiscovered(h stack.Handle) bool {
	l, ok := r.links[h]
	if !ok {
		return false
	}
	l.DiscoveryPending = false
	l.DiscoveryComplete = true
	return true
}

// MarkSubscribed records that notifications were enabled on the peer.
func (r *Registry) MarkSubscribed(h stack.Handle) bool {
	l, ok := r.links[h]
	if !ok {
		return false
	}
	l.Subscribed = true
	return true
}

// SetInterval records the connection interval in effect on h.
func (r *Registry) SetInterval(h stack.Handle, interval uint16) bool {
	l, ok := r.links[h]
	if !ok {
		return false
	}
	l.Interval = interval
	return true
}
