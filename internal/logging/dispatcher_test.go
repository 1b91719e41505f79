package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger)
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("test message", "kind", "document", "bytes", 42) }},
		{"info", func(l *DispatcherLogger) { l.Info("test message", "kind", "document", "bytes", 42) }},
		{"error", func(l *DispatcherLogger) { l.Error("test message", "kind", "document", "bytes", 42) }},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "test message", entry["message"])
			assert.Equal(t, "document", entry["kind"])
			assert.Equal(t, float64(42), entry["bytes"])
		})
	}
}

func TestDispatcherLogger_FiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestDispatcherLogger_OddKeyValues(t *testing.T) {
	var buf bytes.Buffer
	NewDispatcherLogger(zerolog.New(&buf)).Info("simple message", "dangling", 7, "key")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "simple message", entry["message"])
	assert.Equal(t, float64(7), entry["dangling"])
	assert.Equal(t, "key", entry["!BADKEY"])
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	NewDispatcherLogger(zerolog.New(&buf)).Error("handler failed", "error", errors.New("bus unavailable"), "kind", "document")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "bus unavailable", entry["error"])
	assert.Equal(t, "document", entry["kind"])
}
