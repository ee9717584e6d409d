package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/srg/amtrelay/internal/link"
	"github.com/srg/amtrelay/internal/stack"
)

// peerLink is the adapter's view of one go-ble connection.
type peerLink struct {
	handle stack.Handle
	role   stack.Role
	peer   string

	// central links
	client   ble.Client
	data     *ble.Characteristic
	readBack *ble.Characteristic

	// peripheral link
	conn ble.Conn
	tx   *txQueue

	// reason requested by Disconnect; zero until then
	reason atomic.Uint32

	cancel context.CancelFunc
	once   sync.Once
}

// closeReason returns the HCI reason reported when the link drops.
func (l *peerLink) closeReason(fallback uint8) uint8 {
	if r := l.reason.Load(); r != 0 {
		return uint8(r)
	}
	return fallback
}

// linkTable is touched by go-ble callbacks and the dispatcher goroutine.
type linkTable struct {
	byHandle *hashmap.Map[stack.Handle, *peerLink]
	byPeer   *hashmap.Map[string, stack.Handle]
	next     atomic.Uint32
}

func newLinkTable() *linkTable {
	return &linkTable{
		byHandle: hashmap.New[stack.Handle, *peerLink](),
		byPeer:   hashmap.New[string, stack.Handle](),
	}
}

// allocate hands out handles 1..link.MaxHandle, wrapping around and skipping
// handles still in use.
func (t *linkTable) allocate() stack.Handle {
	for {
		n := t.next.Add(1)
		h := stack.Handle(n % uint32(link.MaxHandle+1))
		if h == 0 {
			continue
		}
		if _, used := t.byHandle.Get(h); !used {
			return h
		}
	}
}

func (t *linkTable) add(l *peerLink) {
	t.byHandle.Set(l.handle, l)
	if l.peer != "" {
		t.byPeer.Set(l.peer, l.handle)
	}
}

func (t *linkTable) get(h stack.Handle) (*peerLink, bool) {
	return t.byHandle.Get(h)
}

func (t *linkTable) byAddr(peer string) (*peerLink, bool) {
	h, ok := t.byPeer.Get(peer)
	if !ok {
		return nil, false
	}
	return t.byHandle.Get(h)
}

func (t *linkTable) remove(h stack.Handle) (*peerLink, bool) {
	l, ok := t.byHandle.Get(h)
	if !ok {
		return nil, false
	}
	t.byHandle.Del(h)
	if cur, ok := t.byPeer.Get(l.peer); ok && cur == h {
		t.byPeer.Del(l.peer)
	}
	return l, true
}

func (t *linkTable) all() []*peerLink {
	out := make([]*peerLink, 0, t.byHandle.Len())
	t.byHandle.Range(func(_ stack.Handle, l *peerLink) bool {
		out = append(out, l)
		return true
	})
	return out
}
