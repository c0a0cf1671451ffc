package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ParseLevel maps a level name to a zerolog level. Unknown names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// NewLogger returns a JSON logger writing to w, stdout when w is nil.
func NewLogger(level string, w io.Writer) *zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}

// NewConsoleLogger returns a human readable logger for terminals.
func NewConsoleLogger(level string, w io.Writer) *zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	logger := zerolog.New(cw).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &logger
}
