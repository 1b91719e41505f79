package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/cotrelay/server/internal/config"
	"github.com/cotrelay/server/internal/logging"
	intOtel "github.com/cotrelay/server/internal/otel"
)

// logs bundles the slog logger used by the server packages and the
// zerolog logger used by the database and InfluxDB managers.
type logs struct {
	Logger  *slog.Logger
	Zerolog zerolog.Logger
	Path    string

	manager *logging.SlogManager
	file    *os.File
	otel    *intOtel.Provider
	closers []func() error
}

func setupLogging(start time.Time) (*logs, error) {
	l := &logs{manager: logging.NewSlogManager()}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	l.Path = logging.LogFilePath(logsDir, "cotrelay", start)
	if _, err := os.Stat(l.Path); err == nil {
		_ = os.Rename(l.Path, l.Path+".old")
	}
	file, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.file = file

	level := config.GetString("logLevel")

	var provider *sdklog.LoggerProvider
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		p, err := intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			Version:      Version,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    file,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "cotrelay: otel disabled: %v\n", err)
		} else {
			l.otel = p
			provider = p.LoggerProvider()
		}
	}

	var extra []slog.Handler
	if config.GetBool("graylog.enabled") {
		h, w, err := logging.NewGelfHandler(config.GetString("graylog.address"), "cotrelay", logging.ParseLevel(level))
		if err != nil {
			fmt.Fprintf(os.Stderr, "cotrelay: graylog disabled: %v\n", err)
		} else {
			extra = append(extra, h)
			l.closers = append(l.closers, w.Close)
		}
	}

	l.manager.Setup(logging.Options{File: file, Level: level, Provider: provider, Extra: extra})
	l.Logger = l.manager.Logger().With("server", config.GetString("serverId"))
	slog.SetDefault(l.Logger)

	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
		zerolog.ConsoleWriter{Out: file, TimeFormat: time.RFC3339, NoColor: true},
	)).With().Timestamp().Str("server", config.GetString("serverId")).Logger()
	if lvl, err := zerolog.ParseLevel(level); err == nil && lvl != zerolog.NoLevel {
		zl = zl.Level(lvl)
	}
	l.Zerolog = zl
	return l, nil
}

func (l *logs) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = l.manager.Flush(ctx)
	if l.otel != nil {
		_ = l.otel.Shutdown(ctx)
	}
	for _, c := range l.closers {
		_ = c()
	}
	_ = l.file.Close()
}
