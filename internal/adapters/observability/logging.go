package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger returns a zerolog Logger tagged with the service name and
// installs it as the global logger. APP_ENV=dev (or development) uses a
// human-friendly console writer at debug level; everything else is JSON
// at info level.
func NewLogger(env, service string) zerolog.Logger {
	level := zerolog.InfoLevel
	var l zerolog.Logger
	if env == "dev" || env == "development" {
		level = zerolog.DebugLevel
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stdout)
	}
	l = l.Level(level).With().Timestamp().Str("service", service).Logger()
	log.Logger = l
	return l
}
