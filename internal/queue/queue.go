package queue

import (
	"context"
	"sync/atomic"
)

// Queue is a bounded multi-producer, single-consumer channel wrapper.
//
// Producers are the BLE stack goroutines, the console and the stream timer;
// the consumer is the dispatcher loop. Unlike a ring, Send never drops an
// element: it blocks until there is room or the context ends. TrySend is for
// producers whose items may be skipped (timer ticks).
//
//	q := queue.New[event.Event](256)
//	go func() { _ = q.Send(ctx, event.StreamTick{}) }()
//	ev, ok := q.Receive(ctx)
type Queue[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a Queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be > 0")
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
//
// WARNING: Reading from the returned channel bypasses metrics tracking.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Send enqueues v, blocking while the queue is full.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		q.metrics.addWritten(1)
		return nil
	default:
	}

	select {
	case q.ch <- v:
		q.metrics.addWritten(1)
		return nil
	case <-ctx.Done():
		q.metrics.addDropped(1)
		return ctx.Err()
	}
}

// TrySend enqueues v without blocking. It returns false if the queue is full.
func (q *Queue[T]) TrySend(v T) bool {
	select {
	case q.ch <- v:
		q.metrics.addWritten(1)
		return true
	default:
		q.metrics.addDropped(1)
		return false
	}
}

// Receive blocks until a value is available or ctx ends.
func (q *Queue[T]) Receive(ctx context.Context) (v T, ok bool) {
	select {
	case v = <-q.ch:
		q.metrics.addProcessed(1)
		return v, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryReceive attempts a non-blocking receive.
func (q *Queue[T]) TryReceive() (v T, ok bool) {
	select {
	case v = <-q.ch:
		q.metrics.addProcessed(1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// GetMetrics returns a snapshot of current metrics values.
func (q *Queue[T]) GetMetrics() Metrics {
	return Metrics{
		Processed: atomic.LoadInt64(&q.metrics.Processed),
		Written:   atomic.LoadInt64(&q.metrics.Written),
		Dropped:   atomic.LoadInt64(&q.metrics.Dropped),
	}
}

// Metrics provides lock-free metrics tracking for Queue.
type Metrics struct {
	Processed int64
	Written   int64
	Dropped   int64 // TrySend on a full queue or Send cancelled by its context
}

func (m *Metrics) addProcessed(n int) {
	atomic.AddInt64(&m.Processed, int64(n))
}

func (m *Metrics) addWritten(n int) {
	atomic.AddInt64(&m.Written, int64(n))
}

func (m *Metrics) addDropped(n int) {
	atomic.AddInt64(&m.Dropped, int64(n))
}
