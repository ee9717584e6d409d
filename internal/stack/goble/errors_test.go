package goble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDeviceError(t *testing.T) {
	tests := []struct {
		msg string
		off bool
	}{
		{"central manager has invalid state: have=4 want=5: is Bluetooth turned on?", true},
		{"can't init hci: no devices available: (hci0: can't down device: operation not permitted)", true},
		{"permission denied", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := NormalizeDeviceError(errors.New(tt.msg))
			assert.Equal(t, tt.off, errors.Is(err, ErrBluetoothOff))
			assert.Contains(t, err.Error(), tt.msg, "original message MUST be kept")
		})
	}
	assert.NoError(t, NormalizeDeviceError(nil))
}
