package dispatch

import (
	"github.com/srg/amtrelay/internal/relay"
)

// LinkStatus describes one registered link.
type LinkStatus struct {
	Handle     string `json:"handle"`
	Role       string `json:"role"`
	Peer       string `json:"peer"`
	Interval   uint16 `json:"interval"`
	Discovered bool   `json:"discovered"`
	Subscribed bool   `json:"subscribed"`
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	Role        string       `json:"role"`
	State       string       `json:"state"`
	Flags       string       `json:"flags"`
	RunID       string       `json:"run_id"`
	Scanning    bool         `json:"scanning"`
	Advertising bool         `json:"advertising"`
	Links       []LinkStatus `json:"links"`
	Relay       relay.Stats  `json:"relay"`
	SentBytes   uint32       `json:"sent_bytes"`
	ElapsedMs   int64        `json:"elapsed_ms"`
}

// Status snapshots the dispatcher. Call it from the loop only; the console
// asks for it with a status command.
func (d *Dispatcher) Status() Status {
	st := Status{
		Role:        string(d.store.Role()),
		State:       d.gate.State().String(),
		Flags:       d.gate.Flags().String(),
		RunID:       d.runID,
		Scanning:    d.scanning,
		Advertising: d.advertising,
		Links:       []LinkStatus{},
		Relay:       d.forwarder.Stats(),
		SentBytes:   d.source.Sent(),
		ElapsedMs:   d.counter.ElapsedMs(),
	}
	for _, l := range d.registry.All() {
		st.Links = append(st.Links, LinkStatus{
			Handle:     l.Handle.String(),
			Role:       l.Role.String(),
			Peer:       l.Peer,
			Interval:   l.Interval,
			Discovered: l.DiscoveryComplete,
			Subscribed: l.Subscribed,
		})
	}
	return st
}
