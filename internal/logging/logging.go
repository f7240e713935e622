// Package logging wraps zerolog into the per-component structured logger
// every engine package logs through (SPEC_FULL.md §4.12). Output is JSON by
// default and switches to zerolog's console writer when stderr is a TTY,
// mirroring the corpus's Infof/Warnf/Errorf-shaped logging call sites.
package logging

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is a thin facade over zerolog.Logger scoped to one component.
type Logger struct {
	z zerolog.Logger
}

var base zerolog.Logger

func init() {
	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	base = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel parses a level string ("debug", "info", "warn", "error") and
// applies it globally. Unrecognized values fall back to info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// For returns a Logger scoped to the named component, e.g. "evaluator".
func For(component string) *Logger {
	return &Logger{z: base.With().Str("component", component).Logger()}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.z.Error().Msgf(format, args...) }

// WithField returns a derived Logger carrying one extra structured field,
// e.g. logging.For("executor").WithField("play_id", p.ID).
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}
