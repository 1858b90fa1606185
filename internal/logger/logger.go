package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const LevelEnv = "METER_LOG_LEVEL"

// New builds the process logger. The level comes from METER_LOG_LEVEL because
// the logger is constructed before the rest of the configuration.
func New() zerolog.Logger {
	return SetLevel(ParseLevel(os.Getenv(LevelEnv)))
}

func SetLevel(level zerolog.Level) zerolog.Logger {
	return NewWriter(os.Stdout, level)
}

func NewWriter(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger.Level(level)
}

// ParseLevel falls back to info for empty or unknown names.
func ParseLevel(name string) zerolog.Level {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
