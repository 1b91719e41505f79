// Package fabric is the routing fabric: per-device channels bound to
// broadcast, chat room, team and mission topics over NATS subjects, plus the
// shared ingestion subject consumed by the decoder pool.
package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// ErrBusUnavailable means the broker did not accept a publish. Callers
	// queue and retry.
	ErrBusUnavailable = errors.New("bus unavailable")
	// ErrUnknownChannel is returned for operations on an undeclared device channel.
	ErrUnknownChannel = errors.New("unknown device channel")
	// ErrUnknownTopic is returned for subjects outside the fabric layout.
	ErrUnknownTopic = errors.New("unknown topic")
)

// Control ops sent to a device channel.
const (
	ControlBind   = "bind"
	ControlUnbind = "unbind"
)

// Control asks the session owning a device channel to change its bindings.
type Control struct {
	Op    string    `json:"op"`
	Kind  TopicKind `json:"kind"`
	Name  string    `json:"name"`
	Cause string    `json:"cause,omitempty"`
}

// Topic returns the topic the control message refers to.
func (c Control) Topic() Topic {
	return Topic{Kind: c.Kind, Name: c.Name}
}

// Message is one delivery from the bus.
type Message struct {
	Topic   Topic
	Origin  string
	Data    []byte
	Control *Control
}

// Handler receives messages. Calls for one channel are sequential.
type Handler func(Message)

// Config tunes the fabric.
type Config struct {
	// ChannelSize is the capacity of each device channel inbox.
	ChannelSize int
	// FlushTimeout bounds the wait for the broker to register a new binding.
	FlushTimeout time.Duration
	// BreakerFailures consecutive publish failures open the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ChannelSize <= 0 {
		c.ChannelSize = 4096
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 2 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 5 * time.Second
	}
}

type channel struct {
	uid      string
	callsign string
	inbox    chan *nats.Msg
	subs     map[Topic]*nats.Subscription
	done     chan struct{}
	started  bool
}

// Fabric implements the routing fabric on one NATS connection.
type Fabric struct {
	nc      *nats.Conn
	cfg     Config
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger

	mu       sync.Mutex
	channels map[string]*channel
}

// Connect dials url and returns a fabric using that connection. The
// connection reconnects forever; publishes fail fast once it is closed.
func Connect(url, name string, cfg Config, logger *slog.Logger) (*Fabric, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("bus reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("bus error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to bus %s: %w", url, err)
	}
	return New(nc, cfg, logger), nil
}

// New wraps an existing connection.
func New(nc *nats.Conn, cfg Config, logger *slog.Logger) *Fabric {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fabric{
		nc:       nc,
		cfg:      cfg,
		logger:   logger.With("component", "fabric"),
		channels: make(map[string]*channel),
	}
	f.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "bus-publish",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return f
}

// Available reports whether the connection is currently usable.
func (f *Fabric) Available() bool {
	return f.nc.IsConnected() && f.breaker.State() != gobreaker.StateOpen
}

// DeclareDeviceChannel creates the addressable channel for uid, bound to
// broadcast, to its own uid and to callsign. Declaring an existing channel
// only refreshes the callsign binding.
func (f *Fabric) DeclareDeviceChannel(uid, callsign string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.channels[uid]
	if !ok {
		ch = &channel{
			uid:   uid,
			inbox: make(chan *nats.Msg, f.cfg.ChannelSize),
			subs:  make(map[Topic]*nats.Subscription),
			done:  make(chan struct{}),
		}
		for _, t := range []Topic{Broadcast(), Device(uid), controlTopic(uid)} {
			if err := f.subscribe(ch, t); err != nil {
				f.unsubscribeAll(ch)
				return err
			}
		}
		f.channels[uid] = ch
	}

	if ch.callsign != callsign {
		if ch.callsign != "" {
			f.unsubscribe(ch, Callsign(ch.callsign))
		}
		ch.callsign = callsign
		if callsign != "" {
			if err := f.subscribe(ch, Callsign(callsign)); err != nil {
				return err
			}
		}
	}
	return f.flush()
}

// Bind binds the channel of uid to t. Binding twice is a no-op.
func (f *Fabric) Bind(uid string, t Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[uid]
	if !ok {
		return fmt.Errorf("bind %s to %s: %w", uid, t, ErrUnknownChannel)
	}
	if _, bound := ch.subs[t]; bound {
		return nil
	}
	if err := f.subscribe(ch, t); err != nil {
		return err
	}
	return f.flush()
}

// Unbind removes a binding. Unbinding an unbound topic is a no-op.
func (f *Fabric) Unbind(uid string, t Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[uid]
	if !ok {
		return fmt.Errorf("unbind %s from %s: %w", uid, t, ErrUnknownChannel)
	}
	f.unsubscribe(ch, t)
	return nil
}

// Bindings lists the room, team and mission topics uid is bound to.
func (f *Fabric) Bindings(uid string) []Topic {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[uid]
	if !ok {
		return nil
	}
	var out []Topic
	for t := range ch.subs {
		if t.Kind == TopicChatroom || t.Kind == TopicMission {
			out = append(out, t)
		}
	}
	return out
}

// Consume delivers everything arriving on the channel of uid to h until
// the channel is released. Only one consumer per channel is allowed.
func (f *Fabric) Consume(uid string, h Handler) error {
	f.mu.Lock()
	ch, ok := f.channels[uid]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("consume %s: %w", uid, ErrUnknownChannel)
	}
	if ch.started {
		f.mu.Unlock()
		return fmt.Errorf("consume %s: already consuming", uid)
	}
	ch.started = true
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-ch.done:
				return
			case m := <-ch.inbox:
				msg, err := f.toMessage(m)
				if err != nil {
					f.logger.Debug("dropping undecodable delivery", "uid", uid, "subject", m.Subject, "error", err)
					continue
				}
				h(msg)
			}
		}
	}()
	return nil
}

// Release drops every binding of uid and stops its consumer.
func (f *Fabric) Release(uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[uid]
	if !ok {
		return nil
	}
	delete(f.channels, uid)
	f.unsubscribeAll(ch)
	close(ch.done)
	return nil
}

// Publish sends data to t on behalf of origin.
func (f *Fabric) Publish(ctx context.Context, t Topic, origin string, data []byte) error {
	return f.publish(ctx, t.Subject(), origin, data)
}

// PublishIngest hands a raw document to the decoder pool.
func (f *Fabric) PublishIngest(ctx context.Context, origin string, data []byte) error {
	return f.publish(ctx, SubjectIngest, origin, data)
}

// SendControl asks the session owning uid to change its bindings.
func (f *Fabric) SendControl(ctx context.Context, uid string, c Control) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}
	return f.publish(ctx, controlTopic(uid).Subject(), "", data)
}

// ConsumeIngest joins the decoder queue group. Each ingested document is
// delivered to exactly one member of the group. The returned func leaves it.
func (f *Fabric) ConsumeIngest(h Handler) (func() error, error) {
	sub, err := f.nc.QueueSubscribe(SubjectIngest, IngestQueue, func(m *nats.Msg) {
		h(Message{Origin: m.Header.Get(HeaderOrigin), Data: m.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectIngest, err)
	}
	// sequential delivery keeps per-device order; no pending cap
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		return nil, fmt.Errorf("pending limits: %w", err)
	}
	if err := f.flush(); err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// Flush waits until the broker has processed everything sent so far.
func (f *Fabric) Flush(ctx context.Context) error {
	if err := f.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

// Close releases every channel and drains the connection.
func (f *Fabric) Close() error {
	f.mu.Lock()
	for uid, ch := range f.channels {
		f.unsubscribeAll(ch)
		close(ch.done)
		delete(f.channels, uid)
	}
	f.mu.Unlock()
	if f.nc.IsClosed() {
		return nil
	}
	return f.nc.Drain()
}

func (f *Fabric) publish(ctx context.Context, subject, origin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if origin != "" {
		msg.Header.Set(HeaderOrigin, origin)
	}
	_, err := f.breaker.Execute(func() (struct{}, error) {
		if f.nc.IsClosed() {
			return struct{}{}, nats.ErrConnectionClosed
		}
		return struct{}{}, f.nc.PublishMsg(msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w: %v", subject, ErrBusUnavailable, err)
	}
	return nil
}

func (f *Fabric) toMessage(m *nats.Msg) (Message, error) {
	t, err := ParseSubject(m.Subject)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Topic: t, Data: m.Data}
	if m.Header != nil {
		msg.Origin = m.Header.Get(HeaderOrigin)
	}
	if t.Kind == topicControl {
		var c Control
		if err := json.Unmarshal(m.Data, &c); err != nil {
			return Message{}, fmt.Errorf("decode control: %w", err)
		}
		msg.Control = &c
	}
	return msg, nil
}

// subscribe and unsubscribe expect f.mu held.
func (f *Fabric) subscribe(ch *channel, t Topic) error {
	sub, err := f.nc.ChanSubscribe(t.Subject(), ch.inbox)
	if err != nil {
		return fmt.Errorf("subscribe %s to %s: %w: %v", ch.uid, t, ErrBusUnavailable, err)
	}
	ch.subs[t] = sub
	return nil
}

func (f *Fabric) unsubscribe(ch *channel, t Topic) {
	sub, ok := ch.subs[t]
	if !ok {
		return
	}
	delete(ch.subs, t)
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		f.logger.Debug("unsubscribe failed", "uid", ch.uid, "topic", t.String(), "error", err)
	}
}

func (f *Fabric) unsubscribeAll(ch *channel) {
	for t := range ch.subs {
		f.unsubscribe(ch, t)
	}
}

func (f *Fabric) flush() error {
	if !f.nc.IsConnected() {
		// registered on reconnect
		return nil
	}
	if err := f.nc.FlushTimeout(f.cfg.FlushTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}
