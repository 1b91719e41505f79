// Package streaming defines the JSON messages pushed to real-time UI
// consumers over WebSocket.
package streaming

import (
	"encoding/json"
	"time"
)

// Message type constants of the push protocol.
const (
	TypeHello           = "hello"
	TypePresenceJoined  = "presence_joined"
	TypePresenceUpdated = "presence_updated"
	TypePresenceLeft    = "presence_left"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the consumer's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload identifies the server instance. It is sent on every
// (re)connect and acknowledged by the consumer.
type HelloPayload struct {
	ServerID  string    `json:"serverId"`
	StartedAt time.Time `json:"startedAt"`
}

// Position is the last known location of a device.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Hae float64 `json:"hae"`
}

// PresencePayload describes one device presence change.
type PresencePayload struct {
	UID       string    `json:"uid"`
	Callsign  string    `json:"callsign,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	Team      string    `json:"team,omitempty"`
	Role      string    `json:"role,omitempty"`
	Position  *Position `json:"position,omitempty"`
	EventTime time.Time `json:"eventTime,omitzero"`
}
