package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/fabric"
	"github.com/cotrelay/server/internal/presence"
)

const docTime = "2024-05-01T10:00:00.000Z"

func identityDoc(uid, callsign, team string) string {
	return fmt.Sprintf(`<event version="2.0" uid="%s" type="a-f-G-U-C" how="m-g" time="%s" start="%s" stale="2024-05-01T10:05:00.000Z">`+
		`<point lat="51.5" lon="-0.1" hae="10" ce="5" le="5"/>`+
		`<detail><takv device="Pixel" os="14" platform="ATAK-CIV" version="5.0"/>`+
		`<contact callsign="%s" endpoint="*:-1:stcp"/><__group name="%s" role="Team Member"/></detail></event>`,
		uid, docTime, docTime, callsign, team)
}

func markerDoc(uid string) string {
	return fmt.Sprintf(`<event version="2.0" uid="%s" type="a-h-G" how="h-g-i-g-o" time="%s" start="%s" stale="2024-05-01T11:00:00.000Z">`+
		`<point lat="51.6" lon="-0.2" hae="0" ce="9999999" le="9999999"/><detail><contact callsign="Enemy"/></detail></event>`,
		uid, docTime, docTime)
}

func pingDoc(uid string) string {
	return fmt.Sprintf(`<event version="2.0" uid="%s-ping" type="t-x-c-t" how="m-g" time="%s" start="%s" stale="%s">`+
		`<point lat="0" lon="0" hae="0" ce="9999999" le="9999999"/></event>`, uid, docTime, docTime, docTime)
}

type harness struct {
	t        *testing.T
	bus      *fakeBus
	presence *presence.Tracker
	registry *Registry
	client   net.Conn
	sess     *Session
	errCh    chan error
	framer   *cot.Framer
}

type option func(*Deps, *Config)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FlushTimeout = time.Second
	cfg.OutboxRetryMax = 20 * time.Millisecond
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, bus *fakeBus, tr *presence.Tracker, reg *Registry, opts ...option) *harness {
	t.Helper()
	server, client := net.Pipe()
	return startOn(t, server, client, bus, tr, reg, opts...)
}

func startOn(t *testing.T, server, client net.Conn, bus *fakeBus, tr *presence.Tracker, reg *Registry, opts ...option) *harness {
	t.Helper()
	deps := Deps{Bus: bus, Presence: tr, Registry: reg, Logger: discardLogger()}
	cfg := testConfig()
	for _, o := range opts {
		o(&deps, &cfg)
	}
	h := &harness{
		t:        t,
		bus:      bus,
		presence: tr,
		registry: reg,
		client:   client,
		sess:     New(server, deps, cfg),
		errCh:    make(chan error, 1),
		framer:   cot.NewFramer(0),
	}
	go func() { h.errCh <- h.sess.Serve(context.Background()) }()
	t.Cleanup(func() {
		_ = client.Close()
		h.sess.Close()
		<-h.sess.Done()
	})
	return h
}

func start(t *testing.T, opts ...option) *harness {
	return newHarness(t, newFakeBus(), presence.New(4, nil, nil), NewRegistry(), opts...)
}

func (h *harness) send(doc string) {
	h.t.Helper()
	require.NoError(h.t, h.client.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := h.client.Write([]byte(doc))
	require.NoError(h.t, err)
}

// read returns the next document written to the client.
func (h *harness) read() []byte {
	h.t.Helper()
	buf := make([]byte, 4096)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if frame, ok := h.framer.Next(); ok {
			return frame
		}
		require.NoError(h.t, h.client.SetReadDeadline(deadline))
		n, err := h.client.Read(buf)
		require.NoError(h.t, err, "waiting for a document")
		_, err = h.framer.Write(buf[:n])
		require.NoError(h.t, err)
	}
}

// readNothing asserts no document arrives within d.
func (h *harness) readNothing(d time.Duration) {
	h.t.Helper()
	if frame, ok := h.framer.Next(); ok {
		h.t.Fatalf("unexpected document %s", frame)
	}
	require.NoError(h.t, h.client.SetReadDeadline(time.Now().Add(d)))
	buf := make([]byte, 4096)
	n, err := h.client.Read(buf)
	if n > 0 {
		h.t.Fatalf("unexpected bytes %q", buf[:n])
	}
	var ne net.Error
	require.True(h.t, errors.As(err, &ne) && ne.Timeout(), "expected timeout, got %v", err)
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("session did not finish")
		return nil
	}
}

func (h *harness) waitIngested(n int) []fabric.Message {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.bus.ingestedMessages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.bus.ingestedMessages()
}

func TestPing_AnsweredNotPublished(t *testing.T) {
	h := start(t)

	h.send(pingDoc("ANDROID-1"))
	pong, err := cot.Decode(h.read())
	require.NoError(t, err)
	assert.Equal(t, "ANDROID-1", pong.UID)
	assert.Equal(t, cot.TypePong, pong.Type)
	assert.Equal(t, "h-g-i-g-o", pong.How)

	// a second document proves the ping went nowhere
	h.send(markerDoc("m-1"))
	msgs := h.waitIngested(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Data), `uid="m-1"`)
}

func TestIdentify(t *testing.T) {
	h := start(t)

	h.send(identityDoc("ANDROID-1", "ALPHA", "Cyan"))
	msgs := h.waitIngested(1)
	assert.Equal(t, "ANDROID-1", msgs[0].Origin)

	assert.Equal(t, "ANDROID-1", h.sess.UID())
	assert.Equal(t, Active, h.sess.State())
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Callsign("ALPHA")))
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Chatroom(cot.AllChatRooms)))
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Chatroom("Cyan")))

	e, ok := h.presence.Get("ANDROID-1")
	require.True(t, ok)
	assert.Equal(t, "ALPHA", e.Callsign)
	assert.Equal(t, "ATAK-CIV", e.Platform)
	assert.Equal(t, "Cyan", e.Team)

	s, ok := h.registry.Get("ANDROID-1")
	require.True(t, ok)
	assert.Same(t, h.sess, s)
}

func TestDocumentsBeforeIdentityCarryConnectionID(t *testing.T) {
	h := start(t)

	h.send(markerDoc("m-1"))
	h.send(identityDoc("ANDROID-1", "ALPHA", ""))
	h.send(markerDoc("m-2"))

	msgs := h.waitIngested(3)
	assert.Equal(t, h.sess.ID(), msgs[0].Origin)
	assert.Equal(t, "ANDROID-1", msgs[1].Origin)
	assert.Equal(t, "ANDROID-1", msgs[2].Origin)
}

func TestReidentify_UpdatesInPlace(t *testing.T) {
	h := start(t)

	h.send(identityDoc("ANDROID-1", "ALPHA", "Cyan"))
	h.send(identityDoc("ANDROID-1", "BRAVO", "Red"))
	h.waitIngested(2)

	assert.Equal(t, 1, h.presence.Len())
	assert.Equal(t, 1, h.registry.Len())
	e, _ := h.presence.Get("ANDROID-1")
	assert.Equal(t, "BRAVO", e.Callsign)

	assert.False(t, h.bus.bound("ANDROID-1", fabric.Callsign("ALPHA")))
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Callsign("BRAVO")))
	assert.False(t, h.bus.bound("ANDROID-1", fabric.Chatroom("Cyan")))
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Chatroom("Red")))
}

func TestSnapshotReplay(t *testing.T) {
	tr := presence.New(4, nil, nil)
	other := identityDoc("ANDROID-2", "BRAVO", "Cyan")
	tr.Update(context.Background(), presence.Entry{UID: "ANDROID-2", Callsign: "BRAVO", Document: []byte(other)})
	h := newHarness(t, newFakeBus(), tr, NewRegistry())

	h.send(identityDoc("ANDROID-1", "ALPHA", "Cyan"))
	assert.Equal(t, other, string(h.read()))
}

func TestDelivery_NoEcho(t *testing.T) {
	h := start(t)
	h.send(identityDoc("ANDROID-1", "ALPHA", ""))
	h.waitIngested(1)

	h.bus.publish(fabric.Broadcast(), "ANDROID-1", []byte(markerDoc("own")))
	h.bus.publish(fabric.Broadcast(), "ANDROID-2", []byte(markerDoc("theirs")))

	assert.Contains(t, string(h.read()), `uid="theirs"`)
	h.readNothing(50 * time.Millisecond)
}

func TestControl_ChangesBindings(t *testing.T) {
	h := start(t)
	h.send(identityDoc("ANDROID-1", "ALPHA", ""))
	h.waitIngested(1)

	h.bus.control("ANDROID-1", fabric.Control{Op: fabric.ControlBind, Kind: fabric.TopicMission, Name: "op-1"})
	require.Eventually(t, func() bool { return h.bus.bound("ANDROID-1", fabric.Mission("op-1")) }, time.Second, 5*time.Millisecond)

	h.bus.control("ANDROID-1", fabric.Control{Op: fabric.ControlUnbind, Kind: fabric.TopicMission, Name: "op-1"})
	require.Eventually(t, func() bool { return !h.bus.bound("ANDROID-1", fabric.Mission("op-1")) }, time.Second, 5*time.Millisecond)
}

type staticMissions []string

func (m staticMissions) MissionsFor(context.Context, string) ([]string, error) { return m, nil }

func TestIdentify_BindsMissions(t *testing.T) {
	h := start(t, func(d *Deps, _ *Config) { d.Missions = staticMissions{"op-1", "op-2"} })
	h.send(identityDoc("ANDROID-1", "ALPHA", ""))
	h.waitIngested(1)

	assert.True(t, h.bus.bound("ANDROID-1", fabric.Mission("op-1")))
	assert.True(t, h.bus.bound("ANDROID-1", fabric.Mission("op-2")))
}

func TestTeardown(t *testing.T) {
	h := start(t)
	h.send(identityDoc("ANDROID-1", "ALPHA", "Cyan"))
	h.waitIngested(1)

	require.NoError(t, h.client.Close())
	require.NoError(t, h.wait())

	assert.Equal(t, Closed, h.sess.State())
	assert.False(t, h.bus.hasChannel("ANDROID-1"))
	assert.Equal(t, 0, h.presence.Len())
	assert.Equal(t, 0, h.registry.Len())

	msgs := h.bus.ingestedMessages()
	require.Len(t, msgs, 2)
	offline, err := cot.Decode(msgs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, cot.TypeOffline, offline.Type)
	assert.Equal(t, "ANDROID-1", msgs[1].Origin)
	uid, ok := offline.IsOffline()
	assert.True(t, ok)
	assert.Equal(t, "ANDROID-1", uid)
}

func TestTeardown_Unidentified(t *testing.T) {
	h := start(t)
	h.send(markerDoc("m-1"))
	h.waitIngested(1)

	h.sess.Close()
	require.NoError(t, h.wait())
	assert.Len(t, h.bus.ingestedMessages(), 1, "no offline document without identity")
}

func TestTakeover_SameUID(t *testing.T) {
	bus := newFakeBus()
	tr := presence.New(4, nil, nil)
	reg := NewRegistry()

	first := newHarness(t, bus, tr, reg)
	first.send(identityDoc("ANDROID-1", "ALPHA", ""))
	first.waitIngested(1)

	second := newHarness(t, bus, tr, reg)
	second.send(identityDoc("ANDROID-1", "ALPHA", ""))
	second.waitIngested(2)

	require.NoError(t, first.wait())
	s, ok := reg.Get("ANDROID-1")
	require.True(t, ok)
	assert.Same(t, second.sess, s)
	assert.Equal(t, 1, tr.Len())
	assert.True(t, bus.hasChannel("ANDROID-1"))

	for _, m := range bus.ingestedMessages() {
		assert.NotContains(t, string(m.Data), cot.TypeOffline, "takeover must not announce offline")
	}

	// the new session receives deliveries
	bus.publish(fabric.Device("ANDROID-1"), "ANDROID-2", []byte(markerDoc("direct")))
	assert.Contains(t, string(second.read()), `uid="direct"`)
}

func TestTakeover_PreviousSessionStuckWriting(t *testing.T) {
	bus := newFakeBus()
	tr := presence.New(4, nil, nil)
	reg := NewRegistry()
	slowPeer := func(_ *Deps, c *Config) {
		c.WriteTimeout = 5 * time.Second
		c.FlushTimeout = 200 * time.Millisecond
	}

	first := newHarness(t, bus, tr, reg, slowPeer)
	first.send(identityDoc("ANDROID-1", "ALPHA", ""))
	first.waitIngested(1)
	// the pong is never read, so the first session blocks writing it
	first.send(pingDoc("ANDROID-1"))

	started := time.Now()
	second := newHarness(t, bus, tr, reg, slowPeer)
	second.send(identityDoc("ANDROID-1", "ALPHA", ""))
	second.waitIngested(2)
	_ = first.wait()
	assert.Less(t, time.Since(started), 5*time.Second, "stuck write must not delay the takeover")

	require.True(t, bus.hasChannel("ANDROID-1"))
	s, ok := reg.Get("ANDROID-1")
	require.True(t, ok)
	assert.Same(t, second.sess, s)

	bus.publish(fabric.Device("ANDROID-1"), "ANDROID-2", []byte(markerDoc("direct")))
	assert.Contains(t, string(second.read()), `uid="direct"`)
}

func TestTakeover_AbandonedWhileWaiting(t *testing.T) {
	bus := newFakeBus()
	tr := presence.New(4, nil, nil)
	reg := NewRegistry()

	first := newHarness(t, bus, tr, reg)
	first.send(identityDoc("ANDROID-1", "ALPHA", ""))
	first.waitIngested(1)

	second := newHarness(t, bus, tr, reg)
	second.send(identityDoc("ANDROID-1", "ALPHA", ""))
	require.Eventually(t, func() bool {
		s, ok := reg.Get("ANDROID-1")
		return ok && s == second.sess
	}, 2*time.Second, 5*time.Millisecond)
	third := newHarness(t, bus, tr, reg)
	third.send(identityDoc("ANDROID-1", "ALPHA", ""))

	require.NoError(t, first.wait())
	_ = second.wait()
	require.Eventually(t, func() bool {
		s, ok := reg.Get("ANDROID-1")
		return ok && s == third.sess && third.sess.UID() == "ANDROID-1"
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bus.hasChannel("ANDROID-1") }, 2*time.Second, 5*time.Millisecond)

	bus.publish(fabric.Device("ANDROID-1"), "ANDROID-2", []byte(markerDoc("direct")))
	assert.Contains(t, string(third.read()), `uid="direct"`)
}

func TestOutbox_BusUnavailableKeepsOrder(t *testing.T) {
	h := start(t)
	h.bus.down.Store(true)

	for i := 0; i < 5; i++ {
		h.send(markerDoc(fmt.Sprintf("m-%d", i)))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, h.bus.ingestedMessages())

	h.bus.down.Store(false)
	msgs := h.waitIngested(5)
	for i, m := range msgs {
		assert.Contains(t, string(m.Data), fmt.Sprintf(`uid="m-%d"`, i))
	}
}

func TestFramingError_ClosesConnection(t *testing.T) {
	h := start(t, func(_ *Deps, c *Config) { c.MaxFrameBytes = 256 })

	go func() {
		_, _ = h.client.Write([]byte(`<event uid="x">` + strings.Repeat("a", 1024)))
	}()
	err := h.wait()
	assert.ErrorIs(t, err, cot.ErrFrameTooLarge)
	assert.Empty(t, h.bus.ingestedMessages())
}

func TestUndecodableDocumentIsSkipped(t *testing.T) {
	h := start(t)
	h.send(`<event uid="a"><point></pointx></event>`)
	h.send(markerDoc("m-1"))

	msgs := h.waitIngested(1)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Data), `uid="m-1"`)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "authenticating", Authenticating.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestServe_ContextCancel(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New(server, Deps{Bus: newFakeBus(), Presence: presence.New(1, nil, nil), Logger: discardLogger()}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session ignored cancellation")
	}
}
