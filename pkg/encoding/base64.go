// Package encoding provides JSON-serializable byte slice types for wire
// payloads: base64 for audio data, hex for digests.
package encoding

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// unquoteJSON strips the surrounding quotes from a JSON string value.
// Returns done=true for JSON null, which callers treat as a no-op.
func unquoteJSON(data []byte, kind string) (s string, done bool, err error) {
	if len(data) == 0 {
		return "", false, fmt.Errorf("unmarshal %s data: empty input", kind)
	}
	switch data[0] {
	case 'n': // null
		return "", true, nil
	case '"':
		if len(data) < 2 || data[len(data)-1] != '"' {
			return "", false, fmt.Errorf("unmarshal %s data: invalid string", kind)
		}
		return string(data[1 : len(data)-1]), false, nil
	default:
		return "", false, fmt.Errorf("unmarshal %s data: not a string: %s", kind, string(data))
	}
}

// StdBase64Data is a byte slice that serializes to/from standard base64 in
// JSON. Audio payloads on the wire use this type.
type StdBase64Data []byte

// MarshalJSON implements json.Marshaler.
func (b StdBase64Data) MarshalJSON() ([]byte, error) {
	return []byte(`"` + base64.StdEncoding.EncodeToString(b) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *StdBase64Data) UnmarshalJSON(data []byte) error {
	s, done, err := unquoteJSON(data, "base64")
	if err != nil || done {
		return err
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// String returns the base64-encoded string representation.
func (b StdBase64Data) String() string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeStdBase64 decodes a standard base64 string into raw bytes.
func DecodeStdBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("decode base64 data: empty input")
	}
	return base64.StdEncoding.DecodeString(s)
}

// HexData is a byte slice that serializes to/from hexadecimal in JSON.
type HexData []byte

// MarshalJSON implements json.Marshaler.
func (h HexData) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(h) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HexData) UnmarshalJSON(data []byte) error {
	s, done, err := unquoteJSON(data, "hex")
	if err != nil || done {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// String returns the hex-encoded string representation.
func (h HexData) String() string {
	return hex.EncodeToString(h)
}
