// Package logger wires the process-wide zerolog logger.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. It is safe for
// concurrent use across every component.
var Logger zerolog.Logger

// Init configures the global zerolog logger from LOG_LEVEL and
// LOG_FORMAT environment variables. LOG_FORMAT=console uses a
// human-readable writer for local development; anything else (the
// default) emits newline-delimited JSON, suitable for log shipping.
func Init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writer = os.Stdout
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
		return
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()
}

// Named returns a child logger tagged with the given component name,
// matching the convention used across the rest of this codebase.
func Named(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// MaskToken returns a redacted form of a bearer token suitable for
// logging: the first 6 and last 4 characters, with the middle
// replaced. Short tokens are fully masked.
func MaskToken(token string) string {
	if len(token) <= 10 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
