// Package zerologger adapts zerolog to the sitegate Logger interface.
package zerologger

import (
	"io"
	"os"
	"strings"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/rs/zerolog"
)

// Logger writes structured JSON lines. Arguments after the message are
// read as key/value pairs.
type Logger struct {
	log zerolog.Logger
}

var _ sitegate.Logger = (*Logger)(nil)

// New returns a logger for serviceName writing to stdout at level.
// Unknown levels fall back to info.
func New(serviceName, level string) *Logger {
	return NewWithWriter(os.Stdout, serviceName, level)
}

// NewWithWriter is New with an explicit destination
func NewWithWriter(w io.Writer, serviceName, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return &Logger{
		log: zerolog.New(w).Level(lvl).With().
			Str("service", serviceName).
			Timestamp().
			Logger(),
	}
}

// Zerolog exposes the underlying logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.log
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{log: l.log.With().Fields(pairs(args)).Logger()}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log.Debug().Fields(pairs(args)).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log.Info().Fields(pairs(args)).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log.Warn().Fields(pairs(args)).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log.Error().Fields(pairs(args)).Msg(msg)
}

// pairs makes args safe for zerolog: keys are strings and every key has a
// value.
func pairs(args []any) []any {
	if len(args) == 0 {
		return nil
	}

	out := make([]any, 0, len(args)+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		if i+1 < len(args) {
			out = append(out, key, args[i+1])
		} else {
			out = append(out, key, "(MISSING)")
		}
	}
	return out
}
