// Package session runs the per-connection protocol: TLS and credential
// checks, document framing, keep-alives, identification, ingestion and
// delivery of the device channel back to the socket.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cotrelay/server/internal/auth"
	"github.com/cotrelay/server/internal/cot"
	"github.com/cotrelay/server/internal/fabric"
	"github.com/cotrelay/server/internal/logging"
	"github.com/cotrelay/server/internal/metrics"
	"github.com/cotrelay/server/internal/presence"
)

// ErrAuthentication wraps every credential or handshake rejection.
var ErrAuthentication = errors.New("authentication failed")

const readBufferSize = 32 * 1024

// State of a session.
type State int32

const (
	Connecting State = iota
	Authenticating
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Bus is the part of the routing fabric a session uses.
type Bus interface {
	DeclareDeviceChannel(uid, callsign string) error
	Bind(uid string, t fabric.Topic) error
	Unbind(uid string, t fabric.Topic) error
	Bindings(uid string) []fabric.Topic
	Consume(uid string, h fabric.Handler) error
	Release(uid string) error
	PublishIngest(ctx context.Context, origin string, data []byte) error
}

// Presence is the part of the presence tracker a session uses.
type Presence interface {
	Update(ctx context.Context, e presence.Entry) bool
	Remove(ctx context.Context, uid string) (presence.Entry, bool)
	Snapshot(exclude string) []presence.Entry
}

// MissionLister returns the missions a device is subscribed to.
type MissionLister interface {
	MissionsFor(ctx context.Context, uid string) ([]string, error)
}

// Config tunes sessions.
type Config struct {
	MaxFrameBytes    int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// FlushTimeout bounds the outbox drain on close.
	FlushTimeout   time.Duration
	OutboxRetryMax time.Duration
	// DefaultRooms are bound on identification.
	DefaultRooms []string
	// BindTeams binds each device to a chat room named after its team.
	BindTeams bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxFrameBytes:    cot.DefaultMaxFrame,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		FlushTimeout:     5 * time.Second,
		OutboxRetryMax:   5 * time.Second,
		DefaultRooms:     []string{cot.AllChatRooms},
		BindTeams:        true,
	}
}

// Deps are the collaborators shared by all sessions. Auth and Missions may be nil.
type Deps struct {
	Bus      Bus
	Presence Presence
	Auth     auth.Store
	Missions MissionLister
	Registry *Registry
	Logger   *slog.Logger
}

// Session owns one connection.
type Session struct {
	id        string
	conn      net.Conn
	transport string
	cfg       Config
	deps      Deps
	logger    *slog.Logger

	state  atomic.Int32
	framer *cot.Framer
	outbox *Outbox

	mu        sync.Mutex
	uid       string
	callsign  string
	team      string
	principal *auth.Principal
	certCN    string
	declared  bool
	consuming bool
	// predecessor is the superseded session whose channel this one waits for
	predecessor *Session

	writeMu    sync.Mutex
	closeOnce  sync.Once
	stopping   atomic.Bool
	superseded atomic.Bool
	closing    chan struct{}
	released   chan struct{}
	done       chan struct{}
}

// New prepares a session for conn. Call Serve to run it.
func New(conn net.Conn, deps Deps, cfg Config) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		transport: "tcp",
		cfg:       cfg,
		deps:      deps,
		framer:    cot.NewFramer(cfg.MaxFrameBytes),
		closing:   make(chan struct{}),
		released:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	if _, ok := conn.(*tls.Conn); ok {
		s.transport = "tls"
	}
	s.logger = slog.New(logging.NewContextHandler(deps.Logger.Handler(), func() []slog.Attr {
		return []slog.Attr{
			slog.String("uid", s.UID()),
			slog.String("state", s.State().String()),
		}
	})).With("session", s.id, "remote", remoteAddr(conn), "transport", s.transport)
	s.outbox = NewOutbox(deps.Bus.PublishIngest, cfg.OutboxRetryMax, s.logger)
	return s
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// ID is the connection id. Documents published before identification
// carry it as their origin.
func (s *Session) ID() string { return s.id }

// UID returns the identified device uid, or "".
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) Callsign() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callsign
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Done is closed once the session is Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close asks the session to stop. Serve returns after teardown.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopping.Store(true)
		close(s.closing)
		// also unblocks a write stuck on a dead peer
		_ = s.conn.SetDeadline(time.Now())
	})
}

// supersede closes the session on behalf of a newer connection for the
// same uid; the device stays online, so no offline document is sent.
func (s *Session) supersede() {
	s.superseded.Store(true)
	s.Close()
}

// Serve runs the session until the connection ends or ctx is cancelled.
// A nil return means an orderly close.
func (s *Session) Serve(ctx context.Context) error {
	metrics.SessionsTotal.WithLabelValues(s.transport).Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	err := s.run(ctx)
	s.teardown(err)
	return err
}

func (s *Session) run(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	buf := make([]byte, readBufferSize)
	for {
		n, readErr := s.conn.Read(buf)
		if n > 0 {
			_, frameErr := s.framer.Write(buf[:n])
			for frame, ok := s.framer.Next(); ok; frame, ok = s.framer.Next() {
				if err := s.handleFrame(ctx, frame); err != nil {
					return err
				}
			}
			if frameErr != nil {
				metrics.FramingErrors.Inc()
				s.logger.Error("framing error, closing connection", "buffered", s.framer.Buffered(), "error", frameErr)
				return frameErr
			}
		}
		if readErr != nil {
			if s.stopping.Load() || errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

// connect runs the Connecting state.
func (s *Session) connect(ctx context.Context) error {
	s.setState(Connecting)
	encrypted := false
	if tc, ok := s.conn.(*tls.Conn); ok {
		encrypted = true
		hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			metrics.AuthFailures.WithLabelValues("handshake").Inc()
			s.logger.Warn("tls handshake failed", "error", err)
			return fmt.Errorf("%w: tls handshake: %w", ErrAuthentication, err)
		}
		if certs := tc.ConnectionState().PeerCertificates; len(certs) > 0 {
			s.certCN = certs[0].Subject.CommonName
		}
	}

	if !encrypted {
		s.setState(Active)
		return nil
	}
	if s.deps.Auth == nil {
		return s.authFailed(s.certCN, fmt.Errorf("no principal store: %w", auth.ErrUnknownPrincipal))
	}
	if s.certCN != "" {
		p, err := auth.AuthenticateCert(ctx, s.deps.Auth, s.certCN)
		switch {
		case err == nil:
			s.setPrincipal(p)
			s.setState(Active)
			s.logger.Debug("authenticated by client certificate", "principal", p.Username)
			return nil
		case errors.Is(err, auth.ErrUnknownPrincipal):
			s.logger.Debug("client certificate is not a principal, waiting for credentials", "cn", s.certCN)
		default:
			return s.authFailed(s.certCN, err)
		}
	}
	// no trusted identity yet: <auth> must come first
	s.setState(Authenticating)
	return nil
}

func (s *Session) setPrincipal(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p
}

func (s *Session) authFailed(principal string, err error) error {
	reason := "credential"
	switch {
	case errors.Is(err, auth.ErrUnknownPrincipal):
		reason = "unknown"
	case errors.Is(err, auth.ErrInactivePrincipal):
		reason = "inactive"
	}
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	s.logger.Warn("authentication failed", "principal", principal, "reason", reason, "error", err)
	return fmt.Errorf("%w: %w", ErrAuthentication, err)
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) error {
	if cot.IsAuth(frame) {
		return s.handleAuth(ctx, frame)
	}
	if s.State() == Authenticating {
		metrics.AuthFailures.WithLabelValues("required").Inc()
		s.logger.Warn("document received before credentials")
		return fmt.Errorf("%w: credentials required", ErrAuthentication)
	}

	e, err := cot.Decode(frame)
	if err != nil {
		s.logger.Debug("dropping undecodable document", "bytes", len(frame), "error", err)
		return nil
	}

	if e.IsPing() {
		return s.pong(e)
	}

	if e.IsIdentity() && !s.identify(ctx, e, frame) {
		return nil
	}

	origin := s.UID()
	if origin == "" {
		origin = s.id
	}
	if err := s.outbox.Enqueue(origin, frame); err != nil {
		s.logger.Debug("outbox closed, document not published", "type", e.Type)
		return nil
	}
	metrics.DocumentsIngested.Inc()
	return nil
}

func (s *Session) handleAuth(ctx context.Context, frame []byte) error {
	creds, err := cot.DecodeAuth(frame)
	if err != nil {
		return s.authFailed("", err)
	}
	if s.deps.Auth == nil {
		return s.authFailed(creds.Username, auth.ErrUnknownPrincipal)
	}
	p, err := auth.Authenticate(ctx, s.deps.Auth, creds.Username, creds.Password)
	if err != nil {
		return s.authFailed(creds.Username, err)
	}
	s.setPrincipal(p)
	s.setState(Active)
	s.logger.Info("authenticated", "principal", p.Username)
	return nil
}

func (s *Session) pong(ping *cot.Event) error {
	data, err := cot.Marshal(cot.Pong(ping.UID, time.Now()))
	if err != nil {
		return err
	}
	if err := s.write(data); err != nil {
		return fmt.Errorf("write pong: %w", err)
	}
	metrics.PingsAnswered.Inc()
	return nil
}

// identify binds the session to the device described by e. Repeated
// identity documents refresh the callsign, team and presence in place.
// It reports false when the session closed while taking the uid over.
func (s *Session) identify(ctx context.Context, e *cot.Event, frame []byte) bool {
	uid := e.UID
	callsign := e.Callsign()
	var team, role, platform string
	if g := e.Detail.Group; g != nil {
		team, role = g.Name, g.Role
	}
	if tv := e.Detail.Takv; tv != nil {
		platform = tv.Platform
	}

	s.mu.Lock()
	current := s.uid
	s.mu.Unlock()

	if current != "" && current != uid {
		s.logger.Debug("identity of another device relayed", "relayed", uid)
		return true
	}
	if current == "" {
		prev := s.deps.Registry.Claim(uid, s)
		s.mu.Lock()
		s.uid = uid
		s.predecessor = prev
		s.mu.Unlock()
		if prev != nil {
			s.logger.Info("device reconnected, closing previous session", "previous", prev.ID())
			prev.supersede()
			// the channel is declared only after the previous owner let go of it
			select {
			case <-prev.released:
			case <-s.closing:
				return false
			}
		}
		s.logger.Info("device identified", "callsign", callsign, "platform", platform)
	}

	s.bindChannel(ctx, uid, callsign, team)

	s.deps.Presence.Update(ctx, presence.Entry{
		UID:       uid,
		Callsign:  callsign,
		Platform:  platform,
		Team:      team,
		Role:      role,
		Document:  frame,
		EventTime: e.EventTime(),
	})

	s.mu.Lock()
	startConsume := s.declared && !s.consuming
	if startConsume {
		s.consuming = true
	}
	s.mu.Unlock()

	if startConsume {
		s.replaySnapshot(uid)
		if err := s.deps.Bus.Consume(uid, s.deliver); err != nil {
			s.logger.Warn("cannot consume device channel", "error", err)
			s.mu.Lock()
			s.consuming = false
			s.mu.Unlock()
		}
	}
	return true
}

// bindChannel declares the device channel and keeps its room, team and
// mission bindings current.
func (s *Session) bindChannel(ctx context.Context, uid, callsign, team string) {
	bus := s.deps.Bus

	s.mu.Lock()
	declared := s.declared
	oldCallsign, oldTeam := s.callsign, s.team
	s.mu.Unlock()

	if !declared || callsign != oldCallsign {
		if err := bus.DeclareDeviceChannel(uid, callsign); err != nil {
			s.logger.Warn("cannot declare device channel", "error", err)
			return
		}
	}

	if !declared {
		for _, room := range s.cfg.DefaultRooms {
			s.bind(uid, fabric.Chatroom(room))
		}
		if s.deps.Missions != nil {
			missions, err := s.deps.Missions.MissionsFor(ctx, uid)
			if err != nil {
				s.logger.Warn("cannot list missions", "error", err)
			}
			for _, m := range missions {
				s.bind(uid, fabric.Mission(m))
			}
		}
	}

	if s.cfg.BindTeams && team != oldTeam {
		if oldTeam != "" {
			if err := bus.Unbind(uid, fabric.Chatroom(oldTeam)); err != nil {
				s.logger.Debug("unbind team failed", "team", oldTeam, "error", err)
			}
		}
		if team != "" {
			s.bind(uid, fabric.Chatroom(team))
		}
	}

	s.mu.Lock()
	s.declared = true
	s.callsign = callsign
	s.team = team
	s.mu.Unlock()
}

func (s *Session) bind(uid string, t fabric.Topic) {
	if err := s.deps.Bus.Bind(uid, t); err != nil {
		s.logger.Warn("bind failed", "topic", t.String(), "error", err)
	}
}

// replaySnapshot sends the last document of every other known device.
func (s *Session) replaySnapshot(uid string) {
	for _, entry := range s.deps.Presence.Snapshot(uid) {
		if len(entry.Document) == 0 {
			continue
		}
		if err := s.write(entry.Document); err != nil {
			s.logger.Debug("snapshot replay interrupted", "error", err)
			return
		}
	}
}

// deliver writes one message of the device channel to the socket.
func (s *Session) deliver(msg fabric.Message) {
	if msg.Control != nil {
		s.handleControl(*msg.Control)
		return
	}
	if msg.Origin != "" && msg.Origin == s.UID() {
		return
	}
	if err := s.write(msg.Data); err != nil {
		s.logger.Debug("delivery failed, closing", "error", err)
		s.Close()
		return
	}
	metrics.DocumentsDelivered.Inc()
}

func (s *Session) handleControl(c fabric.Control) {
	uid := s.UID()
	if uid == "" {
		return
	}
	var err error
	switch c.Op {
	case fabric.ControlBind:
		err = s.deps.Bus.Bind(uid, c.Topic())
	case fabric.ControlUnbind:
		err = s.deps.Bus.Unbind(uid, c.Topic())
	default:
		s.logger.Debug("unknown control op", "op", c.Op)
		return
	}
	if err != nil {
		s.logger.Warn("control failed", "op", c.Op, "topic", c.Topic().String(), "error", err)
		return
	}
	s.logger.Debug("binding changed", "op", c.Op, "topic", c.Topic().String(), "cause", c.Cause)
}

func (s *Session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := s.conn.Write(data)
	return err
}

// teardown runs Closing: unbind, announce offline, flush, release the socket.
func (s *Session) teardown(cause error) {
	s.setState(Closing)
	if cause != nil {
		s.logger.Info("closing session", "cause", cause)
	}

	ctx := context.Background()
	bus := s.deps.Bus

	s.mu.Lock()
	uid, callsign, declared, pred := s.uid, s.callsign, s.declared, s.predecessor
	s.mu.Unlock()

	if uid != "" {
		if declared {
			for _, t := range bus.Bindings(uid) {
				if err := bus.Unbind(uid, t); err != nil {
					s.logger.Debug("unbind failed", "topic", t.String(), "error", err)
				}
			}
			if err := bus.Release(uid); err != nil {
				s.logger.Debug("release failed", "error", err)
			}
		}
		if !s.superseded.Load() {
			s.deps.Registry.Release(uid, s)
			s.deps.Presence.Remove(ctx, uid)
			s.announceOffline(uid, callsign)
		}
	}
	if pred != nil {
		// a successor may be waiting on this session for the same channel
		<-pred.released
	}
	close(s.released)

	if err := s.outbox.Close(s.cfg.FlushTimeout); err != nil {
		s.logger.Warn("outbox not flushed", "error", err)
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("close connection", "error", err)
	}
	s.setState(Closed)
	close(s.done)
	s.logger.Debug("session closed")
}

func (s *Session) announceOffline(uid, callsign string) {
	data, err := cot.Marshal(cot.Offline(uid, callsign, time.Now()))
	if err != nil {
		s.logger.Warn("cannot build offline document", "error", err)
		return
	}
	if err := s.outbox.Enqueue(uid, data); err != nil {
		s.logger.Warn("cannot queue offline document", "error", err)
	}
}
