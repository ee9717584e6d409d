// Package event defines the tagged events consumed by the dispatcher.
//
// Every event belongs to exactly one Source. The set is closed: only types in
// this package implement Event, which keeps the dispatcher's type switch
// exhaustive.
package event

import (
	"github.com/srg/amtrelay/internal/stack"
)

// Source identifies the layer an event comes from.
type Source int

const (
	SourceGAP Source = iota
	SourceGATT
	SourceClient
	SourceServer
	SourceConsole
	SourceTimer
)

func (s Source) String() string {
	switch s {
	case SourceGAP:
		return "gap"
	case SourceGATT:
		return "gatt"
	case SourceClient:
		return "amt-client"
	case SourceServer:
		return "amt-server"
	case SourceConsole:
		return "console"
	case SourceTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the dispatcher.
type Event interface {
	Source() Source
	sealed()
}

type gapEvent struct{}

func (gapEvent) Source() Source { return SourceGAP }
func (gapEvent) sealed()        {}

type gattEvent struct{}

func (gattEvent) Source() Source { return SourceGATT }
func (gattEvent) sealed()        {}

type clientEvent struct{}

func (clientEvent) Source() Source { return SourceClient }
func (clientEvent) sealed()        {}

type serverEvent struct{}

func (serverEvent) Source() Source { return SourceServer }
func (serverEvent) sealed()        {}

// ----------------------------
// GAP
// ----------------------------

// AdvReport is a received advertisement.
type AdvReport struct {
	gapEvent
	Addr string
	RSSI int
	Data []byte // raw AD structures
}

// Connected reports a new link.
type Connected struct {
	gapEvent
	Handle stack.Handle
	Role   stack.Role
	Peer   string
	Params stack.ConnParams
}

// Disconnected reports a lost link.
type Disconnected struct {
	gapEvent
	Handle stack.Handle
	Reason uint8
}

// ConnParamUpdate reports the parameters now in effect on a link.
type ConnParamUpdate struct {
	gapEvent
	Handle stack.Handle
	Params stack.ConnParams
}

// ConnParamUpdateRequest is the peer asking for new parameters.
type ConnParamUpdateRequest struct {
	gapEvent
	Handle stack.Handle
	Params stack.ConnParams
}

// PHYUpdate reports the outcome of a PHY procedure.
type PHYUpdate struct {
	gapEvent
	Handle stack.Handle
	Status uint8
	TxPHY  stack.PHYSet
	RxPHY  stack.PHYSet
}

// PHYUpdateRequest is the peer starting a PHY procedure.
type PHYUpdateRequest struct {
	gapEvent
	Handle stack.Handle
}

// GATTTimeout is an ATT transaction timeout on either the client or server side.
type GATTTimeout struct {
	gapEvent
	Handle stack.Handle
}

// AuthorizeRequest is a read or write awaiting the application's approval.
type AuthorizeRequest struct {
	gapEvent
	Handle stack.Handle
	Kind   stack.AuthorizeKind
	Op     stack.WriteOp
}

// ----------------------------
// GATT module
// ----------------------------

// MTUUpdated reports a completed ATT MTU exchange.
type MTUUpdated struct {
	gattEvent
	Handle stack.Handle
	MTU    uint16
}

// DataLengthUpdated reports a completed data length update.
type DataLengthUpdated struct {
	gattEvent
	Handle stack.Handle
	Length uint16
}

// ----------------------------
// Throughput client (central links)
// ----------------------------

// DiscoveryComplete reports that the throughput service was found on a peer.
type DiscoveryComplete struct {
	clientEvent
	Handle stack.Handle
}

// Notification is one inbound notification on a central link.
type Notification struct {
	clientEvent
	Handle    stack.Handle
	Len       int
	BytesSent uint32 // cumulative count reported by the sender
}

// ReadBackResponse carries the peer's self-reported value.
type ReadBackResponse struct {
	clientEvent
	Handle stack.Handle
	Value  uint32
}

// ----------------------------
// Throughput server (peripheral link)
// ----------------------------

// NotificationsEnabled reports the collector subscribing.
type NotificationsEnabled struct {
	serverEvent
	Handle stack.Handle
}

// NotificationsDisabled reports the collector unsubscribing.
type NotificationsDisabled struct {
	serverEvent
	Handle stack.Handle
}

// ----------------------------
// Console and timer
// ----------------------------

// Command is a console request executed inside the dispatcher loop.
type Command struct {
	Kind CommandKind
	// Reply, when set, receives the result. It must be buffered.
	Reply chan<- Reply
}

func (Command) Source() Source { return SourceConsole }
func (Command) sealed()        {}

// CommandKind enumerates console commands that touch dispatcher state.
type CommandKind int

const (
	CmdRun CommandKind = iota
	CmdTerminate
	CmdStop
	CmdStatus
	CmdHistory
)

func (k CommandKind) String() string {
	switch k {
	case CmdRun:
		return "run"
	case CmdTerminate:
		return "terminate"
	case CmdStop:
		return "stop"
	case CmdStatus:
		return "status"
	case CmdHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Reply is the answer to a Command.
type Reply struct {
	Value any
	Err   error
}

// StreamTick drives the peripheral throughput stream.
type StreamTick struct{}

func (StreamTick) Source() Source { return SourceTimer }
func (StreamTick) sealed()        {}
