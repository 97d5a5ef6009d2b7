// Package logger provides component-scoped structured logging.
//
// Call sites name the component and pass optional fields:
//
//	logger.InfoCF("relay", "Signal posted", map[string]interface{}{"thread": id})
//
// Output is produced by zerolog: a human-readable console writer in
// development, JSON lines otherwise.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)
)

// Options controls logger initialization.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output io.Writer
}

// Init replaces the process logger according to opts.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var l zerolog.Logger
	if strings.EqualFold(opts.Format, "json") {
		l = zerolog.New(out)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	l = l.With().Timestamp().Logger().Level(ParseLevel(opts.Level))

	mu.Lock()
	base = l
	mu.Unlock()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns the underlying zerolog logger (for libraries that take one).
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func emit(level zerolog.Level, component, msg string, fields map[string]interface{}) {
	l := Logger()
	e := l.WithLevel(level)
	if e == nil {
		return
	}
	e = e.Str("component", component)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			e = e.AnErr(k, err)
			continue
		}
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func DebugC(component, msg string) { emit(zerolog.DebugLevel, component, msg, nil) }
func InfoC(component, msg string)  { emit(zerolog.InfoLevel, component, msg, nil) }
func WarnC(component, msg string)  { emit(zerolog.WarnLevel, component, msg, nil) }
func ErrorC(component, msg string) { emit(zerolog.ErrorLevel, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.DebugLevel, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.InfoLevel, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.WarnLevel, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(zerolog.ErrorLevel, component, msg, fields)
}
