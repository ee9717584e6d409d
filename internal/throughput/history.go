package throughput

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Kind says which side of the relay produced a result.
type Kind string

const (
	KindReceived Kind = "received"
	KindSent     Kind = "sent"
)

// Result is one completed measurement.
type Result struct {
	RunID    string        `json:"run_id"`
	Kind     Kind          `json:"kind"`
	KB       uint32        `json:"kbytes"`
	Elapsed  time.Duration `json:"elapsed"`
	Kbps     float64       `json:"kbps"`
	Finished time.Time     `json:"finished"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s %s: %d KB in %d ms, %.2f Kbps", r.RunID, r.Kind, r.KB, r.Elapsed.Milliseconds(), r.Kbps)
}

// NewRunID returns a fresh identifier for a measurement run.
func NewRunID() string {
	return uuid.NewString()
}

// History keeps the most recent results, overwriting the oldest when full.
type History struct {
	mu         sync.Mutex
	buffer     mpmc.RichOverlappedRingBuffer[Result]
	overwrites uint32
}

// NewHistory creates a history holding about size results. The ring rounds
// the size up to a power of two.
func NewHistory(size uint32) (*History, error) {
	if size == 0 {
		return nil, fmt.Errorf("history size must be greater than 0")
	}
	return &History{buffer: mpmc.NewOverlappedRingBuffer[Result](size)}, nil
}

// Add appends a result.
func (h *History) Add(r Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	overwrites, err := h.buffer.EnqueueM(r)
	if err != nil {
		return fmt.Errorf("history enqueue: %w", err)
	}
	h.overwrites += overwrites
	return nil
}

// List returns the stored results, oldest first.
func (h *History) List() ([]Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Result
	for !h.buffer.IsEmpty() {
		r, err := h.buffer.Dequeue()
		if err != nil {
			return nil, fmt.Errorf("history dequeue: %w", err)
		}
		out = append(out, r)
	}
	// the ring is drained to read it; put everything back
	for _, r := range out {
		if _, err := h.buffer.EnqueueM(r); err != nil {
			return nil, fmt.Errorf("history enqueue: %w", err)
		}
	}
	return out, nil
}

// Overwritten returns how many results were dropped to make room.
func (h *History) Overwritten() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overwrites
}
