// Package logging provides the structured logger every core component
// depends on through a small Debug/Info/Warn/Error interface, backed by
// zerolog writing JSON to stderr.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structural interface every component (session handler,
// buffer, filter service, backfill processor) takes as a constructor
// dependency instead of reaching for a package-global logger.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	// Critical logs an unrecoverable condition the caller cannot retry out
	// of, such as a task-status write that exhausted its backoff schedule.
	Critical(msg string, keysAndValues ...interface{})
}

// ZerologLogger adapts zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	l zerolog.Logger
}

// New constructs a ZerologLogger writing structured JSON to stderr with
// timestamps, at the given minimum level ("debug", "info", "warn", "error").
func New(level string) *ZerologLogger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{l: l}
}

func (z *ZerologLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, kv ...interface{}) { z.event(z.l.Debug(), msg, kv) }
func (z *ZerologLogger) Info(msg string, kv ...interface{})  { z.event(z.l.Info(), msg, kv) }
func (z *ZerologLogger) Warn(msg string, kv ...interface{})  { z.event(z.l.Warn(), msg, kv) }
func (z *ZerologLogger) Error(msg string, kv ...interface{}) { z.event(z.l.Error(), msg, kv) }

// Critical logs at zerolog's Error level with a "critical" marker field,
// for the backfill status-writer's unrecoverable-after-retries path, which
// relies on stale recovery to reconcile.
func (z *ZerologLogger) Critical(msg string, kv ...interface{}) {
	e := z.l.Error().Bool("critical", true)
	z.event(e, msg, kv)
}
