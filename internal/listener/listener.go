// Package listener accepts device connections on a TCP or TLS socket and
// runs one session per connection.
package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cotrelay/server/internal/session"
)

// TLSConfig names the key material of a TLS listener.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	// ClientCAFile, when set, verifies client certificates against it.
	ClientCAFile string
	// RequireClientCert rejects handshakes without a verified certificate.
	RequireClientCert bool
}

// LoadTLS builds the server side TLS configuration.
func LoadTLS(c TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.RequestClientCert,
	}
	if c.ClientCAFile != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("client CA %s: no certificates found", c.ClientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
		if c.RequireClientCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	} else if c.RequireClientCert {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	return cfg, nil
}

// Listener is a suture service. Every accepted connection gets its own
// session; Serve returns once all of them have been torn down.
type Listener struct {
	addr   string
	tls    *tls.Config
	deps   session.Deps
	cfg    session.Config
	logger *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}

	mu       sync.Mutex
	bound    net.Addr
	sessions map[*session.Session]struct{}
}

// New returns a listener for addr. A nil tlsConfig serves plain TCP.
func New(addr string, tlsConfig *tls.Config, deps session.Deps, cfg session.Config) *Listener {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = session.NewRegistry()
	}
	l := &Listener{
		addr:     addr,
		tls:      tlsConfig,
		deps:     deps,
		cfg:      cfg,
		ready:    make(chan struct{}),
		sessions: make(map[*session.Session]struct{}),
	}
	l.logger = deps.Logger.With("component", "listener", "transport", l.transport())
	return l
}

func (l *Listener) transport() string {
	if l.tls != nil {
		return "tls"
	}
	return "tcp"
}

// Ready is closed once the socket is bound for the first time.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before Ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bound
}

// Active returns the number of open sessions.
func (l *Listener) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *Listener) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	if l.tls != nil {
		ln = tls.NewListener(ln, l.tls)
	}

	l.mu.Lock()
	l.bound = ln.Addr()
	l.mu.Unlock()
	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("accepting connections", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("listener stopped", "addr", ln.Addr().String())
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// EMFILE and friends: back off instead of spinning
			delay = max(5*time.Millisecond, min(2*delay, time.Second))
			l.logger.Warn("accept failed", "error", err, "retry", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		delay = 0

		s := session.New(conn, l.deps, l.cfg)
		l.track(s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer l.untrack(s)
			if err := s.Serve(ctx); err != nil {
				l.logger.Debug("session ended", "session", s.ID(), "uid", s.UID(), "error", err)
			}
		}()
	}
}

func (l *Listener) track(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s] = struct{}{}
}

func (l *Listener) untrack(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s)
}

func (l *Listener) String() string {
	return l.transport() + " listener " + l.addr
}
