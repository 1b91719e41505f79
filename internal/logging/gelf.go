package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Graylog2/go-gelf/gelf"
)

type gelfSender interface {
	WriteMessage(m *gelf.Message) error
}

// GelfHandler sends records to Graylog. Attributes become GELF
// additional fields; groups are flattened with dots.
type GelfHandler struct {
	w        gelfSender
	level    slog.Leveler
	host     string
	facility string
	attrs    []slog.Attr
	prefix   string
}

// NewGelfHandler dials addr over UDP.
func NewGelfHandler(addr, facility string, level slog.Leveler) (*GelfHandler, *gelf.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("graylog writer: %w", err)
	}
	return newGelfHandler(w, facility, level), w, nil
}

func newGelfHandler(w gelfSender, facility string, level slog.Leveler) *GelfHandler {
	host, _ := os.Hostname()
	if level == nil {
		level = slog.LevelInfo
	}
	return &GelfHandler{w: w, level: level, host: host, facility: facility}
}

func (h *GelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *GelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addExtra(extra, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addExtra(extra, h.prefix, a)
		return true
	})
	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(r.Time.UnixNano()) / 1e9,
		Level:    syslogLevel(r.Level),
		Facility: h.facility,
		Extra:    extra,
	})
}

func (h *GelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return &c
}

func (h *GelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

func addExtra(extra map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			addExtra(extra, prefix+a.Key+".", g)
		}
		return
	}
	// GELF reserves "_id"
	key := "_" + strings.ReplaceAll(prefix+a.Key, " ", "_")
	if key == "_id" {
		key = "_id_"
	}
	switch a.Value.Kind() {
	case slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindBool:
		extra[key] = a.Value.Any()
	default:
		extra[key] = a.Value.String()
	}
}

func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	default:
		return 7
	}
}
