// Package stack describes the BLE host stack the relay core drives.
//
// The core never talks to a radio directly: it issues non-blocking requests
// through the Stack interface and learns about their outcome from events
// delivered to the dispatcher. Implementations must return quickly; any
// procedure that takes air time completes asynchronously.
package stack

import (
	"fmt"
	"strings"
	"time"
)

// Handle identifies one link. Absence is expressed with comma-ok lookups,
// never with a sentinel handle value.
type Handle uint16

func (h Handle) String() string {
	return fmt.Sprintf("0x%x", uint16(h))
}

// Role is the GAP role the local device plays on a link.
type Role int

const (
	RoleAbsent Role = iota
	RolePeripheral
	RoleCentral
)

func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "peripheral"
	case RoleCentral:
		return "central"
	default:
		return "absent"
	}
}

// PHYSet is a bitmask of physical layer modes.
type PHYSet uint8

const (
	PHY1M    PHYSet = 0x01
	PHY2M    PHYSet = 0x02
	PHYCoded PHYSet = 0x04

	PHYAuto PHYSet = 0x00
)

// String renders the effective PHY the way the test report prints it: any set
// containing 2M is reported as 2 Mbps.
func (p PHYSet) String() string {
	switch p {
	case PHY1M:
		return "1 Mbps"
	case PHY2M, PHY2M | PHY1M, PHY2M | PHY1M | PHYCoded:
		return "2 Mbps"
	case PHYCoded:
		return "Coded"
	default:
		return "Unknown"
	}
}

// ParsePHYSet accepts a comma separated list of "1m", "2m", "coded" or "auto".
func ParsePHYSet(s string) (PHYSet, error) {
	var set PHYSet
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "1m", "1mbps":
			set |= PHY1M
		case "2m", "2mbps":
			set |= PHY2M
		case "coded":
			set |= PHYCoded
		case "auto", "":
			set |= PHYAuto
		default:
			return 0, fmt.Errorf("invalid PHY %q: use 1m, 2m, coded or auto", part)
		}
	}
	return set, nil
}

// Connection interval and supervision timeout units used on the air.
const (
	IntervalUnitUs = 1250 // 1.25 ms
	TimeoutUnitMs  = 10   // 10 ms
	MaxInterval    = 3200 // 4 s
	MinInterval    = 6    // 7.5 ms
)

// IntervalDuration converts a connection interval in 1.25 ms units.
func IntervalDuration(units uint16) time.Duration {
	return time.Duration(units) * IntervalUnitUs * time.Microsecond
}

// ConnParams are the GAP connection parameters requested for a link.
type ConnParams struct {
	MinInterval        uint16 // 1.25 ms units
	MaxInterval        uint16 // 1.25 ms units
	SlaveLatency       uint16
	SupervisionTimeout uint16 // 10 ms units
}

// DefaultConnParams are used for every connection request the relay issues:
// 7.5 ms interval, no latency, 4 s supervision timeout.
func DefaultConnParams() ConnParams {
	return ConnParams{
		MinInterval:        MinInterval,
		MaxInterval:        MinInterval,
		SlaveLatency:       0,
		SupervisionTimeout: 400,
	}
}

// IntervalParams returns DefaultConnParams pinned to a single interval.
func IntervalParams(units uint16) ConnParams {
	p := DefaultConnParams()
	p.MinInterval = units
	p.MaxInterval = units
	return p
}

// HCI status codes the core interprets.
const (
	HCISuccess                    uint8 = 0x00
	HCIRemoteUserTerminated       uint8 = 0x13
	HCILocalHostTerminated        uint8 = 0x16
	HCIConnectionTimeout          uint8 = 0x08
	HCILMPErrorTransactionCollide uint8 = 0x2A
)

// AuthorizeKind distinguishes read and write authorization requests.
type AuthorizeKind int

const (
	AuthorizeInvalid AuthorizeKind = iota
	AuthorizeRead
	AuthorizeWrite
)

// WriteOp is the ATT operation behind a write authorization request.
type WriteOp int

const (
	WriteReq WriteOp = iota
	WriteCmd
	PrepWriteReq
	ExecWriteReqNow
	ExecWriteReqCancel
)

// ATT status used when rejecting queued writes.
const (
	GATTStatusSuccess       uint16 = 0x0000
	GATTStatusAppBegin      uint16 = 0x0180
	GATTFeatureNotSupported        = GATTStatusAppBegin + 2
)

// GAP covers link management.
type GAP interface {
	StartScan() error
	StopScan() error
	StartAdvertising() error
	StopAdvertising() error
	Connect(addr string, params ConnParams) error
	Disconnect(h Handle, reason uint8) error
	RequestPHY(h Handle, phys PHYSet) error
	UpdateConnParams(h Handle, params ConnParams) error
	SecureLink(h Handle) error
}

// GATTClient covers the throughput client running on central links.
type GATTClient interface {
	DiscoverService(h Handle) error
	EnableNotifications(h Handle) error
	ReadBack(h Handle) error
}

// GATTServer covers the throughput service exposed on the peripheral link.
type GATTServer interface {
	Notify(h Handle, payload []byte) error
	SetReadBack(value uint32) error
	ReplyAuthorize(h Handle, kind AuthorizeKind, status uint16) error
}

// Stack is everything the relay core asks of the BLE host.
type Stack interface {
	GAP
	GATTClient
	GATTServer
}
