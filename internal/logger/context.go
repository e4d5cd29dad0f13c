// Package logger provides utilities for working with [zerolog] and [context.Context].
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// New initializes a logger for this module's executables: human-readable
// console logging in development mode, JSON logging otherwise.
func New(devMode bool) zerolog.Logger {
	if devMode {
		w := zerolog.ConsoleWriter{Out: os.Stdout}
		return zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// WithContext returns a copy of the given context with the given logger
// attached to it, for retrieval with [FromContext].
func WithContext(ctx context.Context, l *zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger attached to the given context,
// or a disabled logger if the context doesn't have one.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
