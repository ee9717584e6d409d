package relay

import (
	"encoding/binary"
)

const (
	// PayloadSize is the outbound notification buffer.
	PayloadSize = 244
	// MarkerOffset is where forwarded notifications carry Marker.
	MarkerOffset = 5
	// Marker flags a notification as forwarded by a relay.
	Marker byte = 8
)

// EncodePayload builds a notification buffer carrying the cumulative byte
// count in bytes 0..3, little-endian. relayed sets the marker byte.
func EncodePayload(bytesSent uint32, relayed bool) [PayloadSize]byte {
	var p [PayloadSize]byte
	binary.LittleEndian.PutUint32(p[0:4], bytesSent)
	if relayed {
		p[MarkerOffset] = Marker
	}
	return p
}

// DecodeCount reads the cumulative byte count from a notification.
func DecodeCount(p []byte) (uint32, bool) {
	if len(p) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p[0:4]), true
}

// IsRelayed reports whether p carries the relay marker.
func IsRelayed(p []byte) bool {
	return len(p) > MarkerOffset && p[MarkerOffset] == Marker
}
