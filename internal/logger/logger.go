package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application logger instance
var Logger = zerolog.Nop()

// Init initializes the process-wide logger and writes to stdout.
func Init(level, format string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	Logger = New(os.Stdout, format)
	log.Logger = Logger
}

// New builds a logger writing to w. Anything other than "json" gets the
// colored console writer.
func New(w io.Writer, format string) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(w).With().
		Timestamp().
		Caller().
		Logger()
}

// Component returns a child of the application logger tagged with name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// GetLogger returns the configured logger instance
func GetLogger() zerolog.Logger {
	return Logger
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
