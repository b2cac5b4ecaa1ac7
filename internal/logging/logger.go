// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger from environment variables.
// STUDIO_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// STUDIO_LOG_FORMAT=json writes JSON lines to stdout (Lambda, containers);
// anything else writes human-readable output to stderr.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("STUDIO_LOG_LEVEL")))

	if strings.EqualFold(os.Getenv("STUDIO_LOG_FORMAT"), "json") {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitTo sends JSON log lines to w. Tests use it to inspect log output.
func InitTo(w io.Writer, level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(w)
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
