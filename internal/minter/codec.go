package minter

import (
	"encoding/json"
	"fmt"
)

// CodecFormat is the snapshot format of Codec.
const CodecFormat = 1

// Codec encodes *State as canonical JSON.
type Codec struct{}

// Encode renders s as RFC 8785 canonical JSON. Map keys are sorted, so
// equal states always encode to identical bytes.
func (Codec) Encode(s *State) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("encode state: nil")
	}
	return canonicalJSON(s)
}

// Decode parses a state produced by Encode.
func (Codec) Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s.normalize()
	return &s, nil
}

// Format returns CodecFormat.
func (Codec) Format() uint32 {
	return CodecFormat
}
