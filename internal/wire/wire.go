// Package wire defines the JSON frames exchanged between windows and the
// daemon over the /ws endpoint.
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is every frame on the window socket
type Envelope struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Client -> daemon
const (
	TypeSync        = "sync"
	TypeHydrate     = "hydrate"
	TypePlaybackGet = "playback/get"
	TypeCommand     = "command"
	TypePlay        = "play"
)

// Daemon -> client
const (
	TypeHello         = "hello"
	TypeHydration     = "hydration"
	TypePlaybackState = "playback/state"
	TypeAck           = "ack"
	TypeError         = "error"
)

// Hello is the first frame a window receives
type Hello struct {
	WindowID string `json:"windowId"`
}

// HydrateRequest asks for the full state of one store
type HydrateRequest struct {
	StoreName string `json:"storeName"`
}

// New builds an envelope carrying data marshalled as JSON
func New(typ, id string, data any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	env.Data = raw
	return env, nil
}

// Failure builds an error reply for request id
func Failure(id string, err error) Envelope {
	return Envelope{Type: TypeError, ID: id, Error: err.Error()}
}

// Decode unmarshals the envelope payload into out
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s frame has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}
