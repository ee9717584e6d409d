package main

import (
	"errors"
	"fmt"

	"github.com/srg/amtrelay/internal/fault"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/stack/goble"
)

// FormatUserError renders err for the terminal. Fatal stack failures keep the
// failing operation and status, everything else prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, goble.ErrBluetoothOff) {
		return "Bluetooth is unavailable: turn it on and check the adapter permissions"
	}

	if errors.Is(err, goble.ErrUnsupportedPlatform) {
		return "this platform has no supported Bluetooth backend (linux and macOS only)"
	}

	var ferr *fault.FatalError
	if errors.As(err, &ferr) {
		if status := stack.StatusOf(ferr.Err); status != "" {
			return fmt.Sprintf("stack failure during %s (status %s): %v", ferr.Op, status, ferr.Err)
		}
		return fmt.Sprintf("stack failure during %s: %v", ferr.Op, ferr.Err)
	}
	return err.Error()
}
