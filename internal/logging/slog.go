package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options selects the sinks of the server logger.
type Options struct {
	// File receives text records. When nil they go to Console instead.
	File io.Writer
	// Console defaults to os.Stdout.
	Console io.Writer
	Level   string
	// Provider, when set, bridges every record into OpenTelemetry.
	Provider *sdklog.LoggerProvider
	// Extra handlers such as Graylog receive every record too.
	Extra []slog.Handler
}

// SlogManager owns the process-wide slog logger.
type SlogManager struct {
	logger   *slog.Logger
	level    slog.LevelVar
	provider *sdklog.LoggerProvider
}

func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel maps a configured level name onto slog; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Setup replaces the logger. Records below the configured level are
// dropped before reaching any sink.
func (m *SlogManager) Setup(opts Options) {
	m.level.Set(ParseLevel(opts.Level))
	m.provider = opts.Provider

	text := &slog.HandlerOptions{Level: &m.level, ReplaceAttr: utcTime}
	out := opts.File
	if out == nil {
		out = opts.Console
	}
	if out == nil {
		out = os.Stdout
	}

	handlers := []slog.Handler{slog.NewTextHandler(out, text)}
	if opts.Provider != nil {
		handlers = append(handlers, levelFilter{
			Handler: otelslog.NewHandler("cotrelay", otelslog.WithLoggerProvider(opts.Provider)),
			level:   &m.level,
		})
	}
	handlers = append(handlers, opts.Extra...)

	m.logger = slog.New(NewMultiHandler(handlers...))
	m.logger.Info("logging initialized", "level", m.level.Level().String())
}

// SetLevel changes the level of an already configured logger.
func (m *SlogManager) SetLevel(level string) {
	m.level.Set(ParseLevel(level))
}

// Logger returns slog.Default until Setup has run.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OpenTelemetry records to their exporters.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.ForceFlush(ctx)
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

type levelFilter struct {
	slog.Handler
	level slog.Leveler
}

func (f levelFilter) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= f.level.Level() && f.Handler.Enabled(ctx, l)
}

func (f levelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilter{Handler: f.Handler.WithAttrs(attrs), level: f.level}
}

func (f levelFilter) WithGroup(name string) slog.Handler {
	return levelFilter{Handler: f.Handler.WithGroup(name), level: f.level}
}
