// Package wire defines the JSON envelope exchanged with the server and the
// typed frame handed to subscribers.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a frame for subscriber dispatch.
type EventType string

// Reserved control types. Ping carries the client timestamp; the server
// replies with pong echoing it so latency can be measured.
const (
	EventPing EventType = "ping"
	EventPong EventType = "pong"

	// Connection status pushed by the server
	EventConnectionStatus EventType = "connection_status"
)

// Envelope is the wire format for both directions:
// { type, data, session_id, priority?, timestamp }.
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"session_id,omitempty"`
	Priority  string          `json:"priority,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Encode marshals the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses raw bytes into an envelope, rejecting frames without a type.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Frame is a received envelope stamped with its arrival time. Frames are
// immutable once recorded.
type Frame struct {
	Type       EventType
	Data       json.RawMessage
	ReceivedAt time.Time
}

// FrameOf builds a Frame from a decoded envelope.
func FrameOf(env Envelope, at time.Time) Frame {
	return Frame{Type: env.Type, Data: env.Data, ReceivedAt: at}
}

// PingData is the payload of ping and pong control frames. Timestamp is
// client wall clock in milliseconds.
type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

// NewPing builds a ping envelope for the given session at time now.
func NewPing(sessionID string, now time.Time) (Envelope, error) {
	data, err := json.Marshal(PingData{Timestamp: now.UnixMilli()})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      EventPing,
		Data:      data,
		SessionID: sessionID,
		Timestamp: now.UnixMilli(),
	}, nil
}

// EchoedTimestamp extracts the client timestamp from a pong payload.
func EchoedTimestamp(data json.RawMessage) (int64, error) {
	var pd PingData
	if err := json.Unmarshal(data, &pd); err != nil {
		return 0, fmt.Errorf("decode pong: %w", err)
	}
	if pd.Timestamp == 0 {
		return 0, fmt.Errorf("decode pong: missing timestamp")
	}
	return pd.Timestamp, nil
}
