// Package notify pushes presence changes to a real-time UI consumer over
// WebSocket. Delivery is fire-and-forget.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cotrelay/server/internal/presence"
	"github.com/cotrelay/server/pkg/streaming"
)

// Config holds the notifier endpoint.
type Config struct {
	URL      string
	Secret   string
	ServerID string
}

// Notifier implements presence.Notifier.
type Notifier struct {
	conn *connection
	cfg  Config
}

var _ presence.Notifier = (*Notifier)(nil)

// New creates a notifier. Call Init to connect.
func New(cfg Config, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		conn: newConnection(logger.With("component", "notify")),
		cfg:  cfg,
	}
}

// OnDrop registers a callback run whenever a message is dropped.
func (n *Notifier) OnDrop(f func()) {
	n.conn.dropped = f
}

// Init connects and waits for the consumer to acknowledge hello.
func (n *Notifier) Init() error {
	hello, err := marshalEnvelope(streaming.TypeHello, streaming.HelloPayload{
		ServerID:  n.cfg.ServerID,
		StartedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	n.conn.hello = hello
	if err := n.conn.dial(n.cfg.URL, n.cfg.Secret); err != nil {
		return err
	}
	return n.conn.sendAndWait(hello, streaming.TypeHello, ackTimeout)
}

// Close disconnects.
func (n *Notifier) Close() error {
	return n.conn.close()
}

// PresenceChanged queues one presence message.
func (n *Notifier) PresenceChanged(_ context.Context, c presence.Change) error {
	data, err := marshalEnvelope(changeType(c.Kind), presencePayload(c.Entry))
	if err != nil {
		return err
	}
	if !n.conn.send(data) {
		return fmt.Errorf("notify queue full, dropped %s for %s", c.Kind, c.Entry.UID)
	}
	return nil
}

func changeType(k presence.ChangeKind) string {
	switch k {
	case presence.Joined:
		return streaming.TypePresenceJoined
	case presence.Left:
		return streaming.TypePresenceLeft
	default:
		return streaming.TypePresenceUpdated
	}
}

func presencePayload(e presence.Entry) streaming.PresencePayload {
	p := streaming.PresencePayload{
		UID:       e.UID,
		Callsign:  e.Callsign,
		Platform:  e.Platform,
		Team:      e.Team,
		Role:      e.Role,
		EventTime: e.EventTime,
	}
	if e.Point != nil {
		p.Position = &streaming.Position{Lat: e.Point.Latitude, Lon: e.Point.Longitude, Hae: e.Point.Hae}
	}
	return p
}

func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(streaming.Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
