package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

// DispatcherLogger lets the decoder worker pool log through zerolog.
type DispatcherLogger struct {
	logger zerolog.Logger
}

func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	withFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	withFields(l.logger.Info(), keysAndValues).Msg(msg)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	withFields(l.logger.Error(), keysAndValues).Msg(msg)
}

// withFields adds slog style key/value pairs. Errors go through Err so
// they land under the usual "error" key; a dangling value is kept as
// !BADKEY the way slog does it.
func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		if i+1 == len(kv) {
			e = e.Interface("!BADKEY", kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, isErr := kv[i+1].(error); isErr && key == "error" {
			e = e.Err(err)
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
