package goble

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/amtrelay/internal/stack"
)

// frameHeader is the little-endian length prefix of a queued notification.
const frameHeader = 2

// txQueue buffers outbound notifications between the dispatcher and the
// goroutine writing to the go-ble notifier. Frames are stored length-prefixed
// in a byte ring so the capacity is bounded in bytes, like a controller's
// notification buffer pool.
type txQueue struct {
	buf   *ringbuffer.RingBuffer
	ready chan struct{}

	queued  atomic.Uint64
	dropped atomic.Uint64
}

func newTxQueue(frames, frameSize int) *txQueue {
	return &txQueue{
		buf:   ringbuffer.New(frames * (frameSize + frameHeader)),
		ready: make(chan struct{}, 1),
	}
}

// push queues payload. It never blocks: a full ring yields stack.ErrQueueFull.
func (q *txQueue) push(payload []byte) error {
	frame := make([]byte, frameHeader+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[frameHeader:], payload)

	// single writer (the dispatcher), so Free cannot shrink under us
	if q.buf.Free() < len(frame) {
		q.dropped.Add(1)
		return stack.ErrQueueFull
	}
	if _, err := q.buf.Write(frame); err != nil {
		q.dropped.Add(1)
		if errors.Is(err, ringbuffer.ErrIsFull) || errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
			return stack.ErrQueueFull
		}
		return err
	}
	q.queued.Add(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// pop returns the next frame, or false when the ring is empty.
func (q *txQueue) pop() ([]byte, bool) {
	var hdr [frameHeader]byte
	n, err := q.buf.TryRead(hdr[:])
	if err != nil || n < frameHeader {
		return nil, false
	}
	payload := make([]byte, binary.LittleEndian.Uint16(hdr[:]))
	if len(payload) == 0 {
		return payload, true
	}
	n, err = q.buf.TryRead(payload)
	if err != nil || n < len(payload) {
		// frames are written whole, so a short read means the ring was reset
		return nil, false
	}
	return payload, true
}

// pending reports whether frames are waiting.
func (q *txQueue) pending() bool {
	return !q.buf.IsEmpty()
}

// reset drops every queued frame.
func (q *txQueue) reset() {
	q.buf.Reset()
}
