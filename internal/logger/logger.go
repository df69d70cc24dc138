package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for the CLI. Output goes to stderr so that
// command output on stdout stays machine-readable.
func New(level string) zerolog.Logger {
	lvl := parseLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if os.Getenv("STRAVASYNC_LOG_JSON") != "" {
		out = os.Stderr
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Mock returns a discarding logger for tests.
func Mock() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
