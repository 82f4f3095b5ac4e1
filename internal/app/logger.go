package app

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a console logger in dev and JSON lines elsewhere.
func NewLogger(env string) *zerolog.Logger {
	var l zerolog.Logger
	if env == "dev" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		l = zerolog.New(os.Stdout)
	}
	l = l.With().Timestamp().Str("service", "runclub").Logger()
	return &l
}
