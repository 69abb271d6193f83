package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger creates the process logger. Per-component loggers are derived
// from it with .With().Str("component", ...).
func NewLogger(level, org string) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp().Str("service", "netbackup")

	if org != "" {
		ctx = ctx.Str("org", org)
	}

	logger := ctx.Logger()

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	return logger.Level(parsed)
}
