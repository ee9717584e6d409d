package stack

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the result code of a stack request.
type Status string

const (
	StatusInvalidState Status = "invalid_state"
	StatusQueueFull    Status = "queue_full"
	StatusBusy         Status = "busy"
	StatusNotFound     Status = "not_found"
	StatusRejected     Status = "rejected"
	StatusTimeout      Status = "timeout"
	StatusUnsupported  Status = "unsupported"
)

// StatusError is returned by Stack requests that did not succeed.
type StatusError struct {
	Op     string
	Status Status
	Msg    string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Status))
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is allows errors.Is to compare StatusError values by Status
func (e *StatusError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return e.Status == t.Status
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidState = &StatusError{Status: StatusInvalidState}
	ErrQueueFull    = &StatusError{Status: StatusQueueFull}
	ErrBusy         = &StatusError{Status: StatusBusy}
	ErrNotFound     = &StatusError{Status: StatusNotFound}
	ErrRejected     = &StatusError{Status: StatusRejected}
	ErrTimeout      = &StatusError{Status: StatusTimeout}
	ErrUnsupported  = &StatusError{Status: StatusUnsupported}
)

// NewError builds a StatusError for op.
func NewError(op string, status Status, format string, args ...any) error {
	return &StatusError{Op: op, Status: status, Msg: fmt.Sprintf(format, args...)}
}

// StatusOf returns the status carried by err, or "" when err is not a StatusError.
func StatusOf(err error) Status {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Status
	}
	return ""
}

// NormalizeError maps known go-ble error strings to StatusError values.
// The original error is kept in the chain.
func NormalizeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", &StatusError{Op: op, Status: StatusInvalidState}, err)
	case strings.Contains(msg, "already"):
		return fmt.Errorf("%w: %v", &StatusError{Op: op, Status: StatusInvalidState}, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", &StatusError{Op: op, Status: StatusTimeout}, err)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", &StatusError{Op: op, Status: StatusBusy}, err)
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %v", &StatusError{Op: op, Status: StatusUnsupported}, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
