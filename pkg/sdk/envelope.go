package sdk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for raw input that is not shaped like {type, data}.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope wraps every message crossing the transport.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type. A nil data yields no payload.
func NewEnvelope(typ string, data any) (Envelope, error) {
	env := Envelope{Type: typ}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Data = b
	return env, nil
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a json object", ErrMalformedEnvelope)
	}
	var wire struct {
		Type json.RawMessage `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	var typ string
	if len(wire.Type) == 0 || json.Unmarshal(wire.Type, &typ) != nil {
		return Envelope{}, fmt.Errorf("%w: type must be a string", ErrMalformedEnvelope)
	}
	if typ == "" {
		return Envelope{}, fmt.Errorf("%w: empty type", ErrMalformedEnvelope)
	}
	env := Envelope{Type: typ}
	if len(wire.Data) > 0 && !bytes.Equal(wire.Data, []byte("null")) {
		env.Data = wire.Data
	}
	return env, nil
}
