// Package fault marks errors that must stop the process.
//
// The relay never tries to patch up a link after the stack rejected a request
// it expected to succeed. Such errors are wrapped in FatalError, bubble up to
// the dispatcher loop and end it.
package fault

import (
	"errors"
	"fmt"
)

// FatalError is an unrecoverable stack failure.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err. A nil err yields nil so call sites can wrap unconditionally.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ferr *FatalError
	if errors.As(err, &ferr) {
		return err
	}
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var ferr *FatalError
	return errors.As(err, &ferr)
}
