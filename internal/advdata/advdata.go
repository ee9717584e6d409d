// Package advdata reads and writes raw advertising data (length, type, value
// structures).
package advdata

import (
	"errors"
	"fmt"
)

// AD types used by the relay.
const (
	TypeFlags             byte = 0x01
	TypeCompleteUUID128   byte = 0x07
	TypeShortLocalName    byte = 0x08
	TypeCompleteLocalName byte = 0x09
)

var ErrMalformed = errors.New("malformed advertising data")

// Field is one AD structure.
type Field struct {
	Type  byte
	Value []byte
}

// Parse splits data into fields. A zero length byte ends the payload early,
// as controllers pad with zeros.
func Parse(data []byte) ([]Field, error) {
	var fields []Field
	for i := 0; i < len(data); {
		n := int(data[i])
		if n == 0 {
			break
		}
		if i+1+n > len(data) {
			return fields, fmt.Errorf("%w: field at offset %d needs %d bytes, %d left", ErrMalformed, i, n, len(data)-i-1)
		}
		fields = append(fields, Field{Type: data[i+1], Value: data[i+2 : i+1+n]})
		i += n + 1
	}
	return fields, nil
}

// Find returns the value of the first field of type t.
func Find(data []byte, t byte) ([]byte, bool) {
	fields, _ := Parse(data)
	for _, f := range fields {
		if f.Type == t {
			return f.Value, true
		}
	}
	return nil, false
}

// MatchName reports whether the advertised complete local name, or failing
// that the short local name, equals name exactly.
func MatchName(data []byte, name string) bool {
	if v, ok := Find(data, TypeCompleteLocalName); ok && string(v) == name {
		return true
	}
	if v, ok := Find(data, TypeShortLocalName); ok && string(v) == name {
		return true
	}
	return false
}

// Name returns the complete local name, falling back to the short one.
func Name(data []byte) string {
	if v, ok := Find(data, TypeCompleteLocalName); ok {
		return string(v)
	}
	if v, ok := Find(data, TypeShortLocalName); ok {
		return string(v)
	}
	return ""
}

// Encode serializes fields back into advertising data.
func Encode(fields ...Field) ([]byte, error) {
	var out []byte
	for _, f := range fields {
		if len(f.Value) > 254 {
			return nil, fmt.Errorf("%w: field 0x%02x value is %d bytes", ErrMalformed, f.Type, len(f.Value))
		}
		out = append(out, byte(len(f.Value)+1), f.Type)
		out = append(out, f.Value...)
	}
	return out, nil
}
