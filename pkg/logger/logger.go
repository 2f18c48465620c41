// Package logger provides component-tagged structured logging.
// Every entry carries a "component" field so output from the collector,
// the platform adapters and the CLI can be told apart.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the zerolog levels exposed through configuration.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// Init configures the global logger. format is "json" or "console".
func Init(level Level, format string) {
	InitWithWriter(level, format, os.Stderr)
}

// InitWithWriter is Init with an explicit output, used by tests.
func InitWithWriter(level Level, format string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	var l zerolog.Logger
	if strings.EqualFold(format, "json") {
		l = zerolog.New(out).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}

	mu.Lock()
	log = l.Level(parseLevel(level))
	mu.Unlock()
}

func parseLevel(level Level) zerolog.Level {
	switch Level(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn, "warning":
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := log
	return &l
}

func write(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	e = e.Str("component", component)
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg(msg)
}

func DebugC(component, msg string) { write(current().Debug(), component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	write(current().Debug(), component, msg, fields)
}

func InfoC(component, msg string) { write(current().Info(), component, msg, nil) }

func InfoCF(component, msg string, fields map[string]interface{}) {
	write(current().Info(), component, msg, fields)
}

func WarnC(component, msg string) { write(current().Warn(), component, msg, nil) }

func WarnCF(component, msg string, fields map[string]interface{}) {
	write(current().Warn(), component, msg, fields)
}

func ErrorC(component, msg string) { write(current().Error(), component, msg, nil) }

func ErrorCF(component, msg string, fields map[string]interface{}) {
	write(current().Error(), component, msg, fields)
}
