package config

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/srg/amtrelay/internal/stack"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store holds the test parameters edited from the console.
//
// Setters only stage values. The dispatcher takes a Snapshot when a link is
// created, so changes made mid-cycle apply to the next connection only.
type Store struct {
	mu     sync.RWMutex
	role   BoardRole
	params TestParams
}

// NewStore seeds a store from the loaded configuration.
func NewStore(cfg *Config) *Store {
	return &Store{
		role:   cfg.Role,
		params: cfg.Test,
	}
}

// Snapshot returns a copy of the staged parameters.
func (s *Store) Snapshot() TestParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Role returns the board role.
func (s *Store) Role() BoardRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// SetRole changes the board role.
func (s *Store) SetRole(role BoardRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// SetATTMTU stages the ATT MTU.
func (s *Store) SetATTMTU(mtu uint16) error {
	if mtu < MinATTMTU || mtu > MaxATTMTU {
		return fmt.Errorf("ATT MTU %d out of range [%d, %d]", mtu, MinATTMTU, MaxATTMTU)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.ATTMTU = mtu
	return nil
}

// SetConnInterval stages the connection interval in 1.25 ms units.
func (s *Store) SetConnInterval(units uint16) error {
	if units < stack.MinInterval || units > stack.MaxInterval {
		return fmt.Errorf("connection interval %d out of range [%d, %d] units", units, stack.MinInterval, stack.MaxInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.ConnInterval = units
	return nil
}

// SetPHYs stages the preferred PHY set.
func (s *Store) SetPHYs(phys stack.PHYSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.PHYs = phys
}

// SetDataLenExt stages data length extension.
func (s *Store) SetDataLenExt(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.DataLenExt = on
}

// SetConnEvtLenExt stages connection event length extension.
func (s *Store) SetConnEvtLenExt(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params.ConnEvtLenExt = on
}

// Summary lists the current configuration in display order.
func (s *Store) Summary() *orderedmap.OrderedMap[string, string] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	om := orderedmap.New[string, string]()
	om.Set("Board role", string(s.role))
	om.Set("ATT MTU size", strconv.Itoa(int(s.params.ATTMTU)))
	om.Set("Connection interval", fmt.Sprintf("%d units", s.params.ConnInterval))
	om.Set("Data length ext", onOff(s.params.DataLenExt))
	om.Set("Connection length ext", onOff(s.params.ConnEvtLenExt))
	om.Set("Preferred PHY", s.params.PHYs.String())
	return om
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
