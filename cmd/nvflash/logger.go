package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// zlogger adapts zerolog to flash.Logger.
type zlogger struct {
	l zerolog.Logger
}

// newLogger returns a console logger tagged with the session id. Debug
// messages are only written when verbose is set.
func newLogger(w io.Writer, verbose, color bool, session string) *zlogger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !color}
	return &zlogger{
		l: zerolog.New(cw).Level(level).With().Timestamp().Str("session", session).Logger(),
	}
}

func (z *zlogger) Debug(msg string, keysAndValues ...interface{}) {
	z.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (z *zlogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Info().Fields(keysAndValues).Msg(msg)
}

func (z *zlogger) Error(msg string, keysAndValues ...interface{}) {
	z.l.Error().Fields(keysAndValues).Msg(msg)
}
