package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cotrelay/server/internal/config"
	"github.com/cotrelay/server/internal/database"
	"github.com/cotrelay/server/internal/dispatcher"
	"github.com/cotrelay/server/internal/fabric"
	"github.com/cotrelay/server/internal/influx"
	"github.com/cotrelay/server/internal/listener"
	"github.com/cotrelay/server/internal/logging"
	"github.com/cotrelay/server/internal/metrics"
	"github.com/cotrelay/server/internal/notify"
	"github.com/cotrelay/server/internal/presence"
	"github.com/cotrelay/server/internal/session"
	"github.com/cotrelay/server/internal/supervisor"
	"github.com/cotrelay/server/internal/worker"
)

func run(ctx context.Context) error {
	start := time.Now()
	l, err := setupLogging(start)
	if err != nil {
		return err
	}
	defer l.Close()
	logger := l.Logger
	logger.Info("starting cotrelay", "version", Version, "build", BuildDate, "log", l.Path)

	st, err := openStores(l.Zerolog, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing storage", "error", err)
		}
	}()

	bus, shutdownBroker, err := openBus(logger)
	if err != nil {
		return err
	}
	defer shutdownBroker()
	defer func() { _ = bus.Close() }()

	var notifier presence.Notifier
	if url := config.GetString("notify.url"); url != "" {
		n := notify.New(notify.Config{
			URL:      url,
			Secret:   config.GetString("notify.secret"),
			ServerID: config.GetString("serverId"),
		}, logger)
		n.OnDrop(metrics.NotifyDropped.Inc)
		if err := n.Init(); err != nil {
			logger.Warn("presence notifier unavailable", "url", url, "error", err)
		} else {
			defer func() { _ = n.Close() }()
			notifier = n
		}
	}
	tracker := presence.New(config.GetInt("presence.shards"), notifier, logger)

	var tracks worker.Tracks
	if config.GetBool("influx.enabled") {
		backup := filepath.Join(config.GetString("logsDir"), fmt.Sprintf("influx_backup.%s.lp.gz", start.Format("20060102_150405")))
		im := influx.NewManager(l.Zerolog.With().Str("component", "influx").Logger(), backup)
		if err := im.Connect(); err != nil {
			logger.Warn("track stream disabled", "error", err)
		} else {
			defer func() { _ = im.Close() }()
			tracks = im
		}
	}

	d, err := dispatcher.New(logging.NewDispatcherLogger(l.Zerolog.With().Str("component", "dispatcher").Logger()))
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	// runs before the bus is closed so queued documents can still be routed
	defer d.Close()

	workers := worker.NewManager(worker.Dependencies{
		Backend:   st.Backend,
		Missions:  st.Missions,
		Presence:  tracker,
		Publisher: bus,
		Tracks:    tracks,
		Logger:    logger,
	})
	workers.RegisterHandlers(d, config.GetInt("decoder.workers"), config.GetInt("decoder.queueSize"))

	tree := supervisor.New(logger, supervisor.TreeConfig{})
	tree.AddPipeline(&worker.IngestService{Source: bus, Manager: workers, Dispatcher: d})
	if st.DB != nil {
		tree.AddStorage(&database.DumpLoop{Manager: st.DB, Interval: config.GetDuration("sqlite.dumpInterval")})
	}
	if addr := config.GetString("metrics.listen"); addr != "" {
		tree.AddEdge(metrics.NewServer(addr))
	}

	deps := session.Deps{
		Bus:      bus,
		Presence: tracker,
		Auth:     st.Auth,
		Missions: st.Missions,
		Registry: session.NewRegistry(),
		Logger:   logger,
	}
	if err := addListeners(tree, deps, sessionConfig(), logger); err != nil {
		return err
	}

	err = tree.Serve(ctx)
	logger.Info("shutting down", "uptime", time.Since(start).Round(time.Second))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openBus connects to the configured broker or starts the embedded one.
func openBus(logger *slog.Logger) (*fabric.Fabric, func(), error) {
	url := config.GetString("bus.url")
	shutdown := func() {}
	if url == "" {
		if !config.GetBool("bus.embedded") {
			return nil, nil, errors.New("no bus configured: set bus.url or bus.embedded")
		}
		srv, err := fabric.StartEmbedded(config.GetString("bus.embeddedHost"), config.GetInt("bus.embeddedPort"))
		if err != nil {
			return nil, nil, err
		}
		url = srv.ClientURL()
		shutdown = srv.Shutdown
		logger.Info("embedded broker started", "url", url)
	}

	bus, err := fabric.Connect(url, config.GetString("serverId"), fabric.Config{
		ChannelSize:     config.GetInt("bus.channelSize"),
		FlushTimeout:    config.GetDuration("bus.flushTimeout"),
		BreakerFailures: uint32(config.GetInt("bus.breakerFailures")),
		BreakerTimeout:  config.GetDuration("bus.breakerTimeout"),
	}, logger)
	if err != nil {
		shutdown()
		return nil, nil, err
	}
	return bus, shutdown, nil
}

func sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.MaxFrameBytes = config.GetInt("session.maxFrameBytes")
	cfg.HandshakeTimeout = config.GetDuration("session.handshakeTimeout")
	cfg.WriteTimeout = config.GetDuration("session.writeTimeout")
	cfg.FlushTimeout = config.GetDuration("session.flushTimeout")
	cfg.OutboxRetryMax = config.GetDuration("session.outboxRetryMax")
	cfg.BindTeams = config.GetBool("session.bindTeams")
	return cfg
}

func addListeners(tree *supervisor.Tree, deps session.Deps, cfg session.Config, logger *slog.Logger) error {
	tcp := config.GetString("listen.tcp")
	tlsAddr := config.GetString("listen.tls")
	if tcp == "" && tlsAddr == "" {
		return errors.New("nothing to listen on: set listen.tcp or listen.tls")
	}
	if tcp != "" {
		tree.AddEdge(listener.New(tcp, nil, deps, cfg))
	}
	if tlsAddr != "" {
		tlsCfg, err := listener.LoadTLS(listener.TLSConfig{
			CertFile:          config.GetString("tls.cert"),
			KeyFile:           config.GetString("tls.key"),
			ClientCAFile:      config.GetString("tls.clientCA"),
			RequireClientCert: config.GetBool("tls.requireClientCert"),
		})
		if err != nil {
			return fmt.Errorf("tls listener %s: %w", tlsAddr, err)
		}
		tree.AddEdge(listener.New(tlsAddr, tlsCfg, deps, cfg))
	}
	if tlsAddr != "" && deps.Auth == nil {
		logger.Warn("no principal store available, TLS connections will be refused", "listen", tlsAddr)
	}
	return nil
}
