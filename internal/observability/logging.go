package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	// RFC3339 with nanosecond precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger creates a structured JSON logger for one component, writing to
// stdout. The level comes from CDP_LOG_LEVEL (zerolog level names; default
// info). Set CDP_LOG_PRETTY=1 for human-readable console output in dev.
func NewLogger(component string) zerolog.Logger {
	var out = zerolog.New(os.Stdout)
	if os.Getenv("CDP_LOG_PRETTY") == "1" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return out.
		Level(levelFromEnv()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func levelFromEnv() zerolog.Level {
	raw := os.Getenv("CDP_LOG_LEVEL")
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
