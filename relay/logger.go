package relay

import "github.com/rs/zerolog"

// logTag is passed as the context of every debug message.
const logTag = "relay"

// Logger receives debug output from a Client. A nil Logger discards it.
type Logger interface {
	Debug(tag string, format string, args ...interface{})
}

// NewZerologLogger returns a Logger writing debug events to l, with the tag
// stored under "context".
func NewZerologLogger(l zerolog.Logger) Logger {
	return zerologLogger{l: l}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z zerologLogger) Debug(tag string, format string, args ...interface{}) {
	z.l.Debug().Str("context", tag).Msgf(format, args...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, string, ...interface{}) {}
