package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/internal/presence"
	"github.com/cotrelay/server/pkg/core"
	"github.com/cotrelay/server/pkg/streaming"
)

// testServer upgrades to WebSocket, records envelopes and acks hello.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeHello {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestInitSendsHello(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	n := New(Config{URL: wsURL(srv), Secret: "s3cret", ServerID: "node-1"}, nil)
	require.NoError(t, n.Init())
	defer n.Close()

	msgs := ml.all()
	require.NotEmpty(t, msgs)
	assert.Equal(t, streaming.TypeHello, msgs[0].Type)

	var hello streaming.HelloPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &hello))
	assert.Equal(t, "node-1", hello.ServerID)

	ml.mu.Lock()
	assert.Equal(t, "s3cret", ml.secret)
	ml.mu.Unlock()
}

func TestPresenceChanges(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	n := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, n.Init())
	defer n.Close()

	tr := presence.New(2, n, nil)
	ctx := context.Background()
	tr.Update(ctx, presence.Entry{UID: "ANDROID-1", Callsign: "ALPHA", Point: &core.Point{Latitude: 51.5, Longitude: -0.1}})
	tr.Update(ctx, presence.Entry{UID: "ANDROID-1", Team: "Cyan"})
	tr.Remove(ctx, "ANDROID-1")

	require.Eventually(t, func() bool { return len(ml.all()) >= 4 }, 2*time.Second, 10*time.Millisecond)

	msgs := ml.all()
	assert.Equal(t, streaming.TypePresenceJoined, msgs[1].Type)
	assert.Equal(t, streaming.TypePresenceUpdated, msgs[2].Type)
	assert.Equal(t, streaming.TypePresenceLeft, msgs[3].Type)

	var joined streaming.PresencePayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &joined))
	assert.Equal(t, "ALPHA", joined.Callsign)
	require.NotNil(t, joined.Position)
	assert.Equal(t, 51.5, joined.Position.Lat)
}

func TestInitFailsWithoutServer(t *testing.T) {
	n := New(Config{URL: "ws://127.0.0.1:1/none"}, nil)
	assert.Error(t, n.Init())
}

func TestSendDropsWhenFull(t *testing.T) {
	c := newConnection(discardLogger())
	drops := 0
	c.dropped = func() { drops++ }
	for i := 0; i < sendChSize; i++ {
		require.True(t, c.send([]byte("x")))
	}
	assert.False(t, c.send([]byte("x")))
	assert.Equal(t, 1, drops)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newConnection(discardLogger())
	require.NoError(t, c.close())
	require.NoError(t, c.close())
}

func TestChangeType(t *testing.T) {
	assert.Equal(t, streaming.TypePresenceJoined, changeType(presence.Joined))
	assert.Equal(t, streaming.TypePresenceUpdated, changeType(presence.Updated))
	assert.Equal(t, streaming.TypePresenceLeft, changeType(presence.Left))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
