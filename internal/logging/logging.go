// Package logging wraps zap with the level-gated, lazily-evaluated
// debug logging pattern used throughout the engine: expensive debug
// payloads (queue snapshots, resource pool dumps) are only computed
// when the configured level would actually emit them.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.SugaredLogger, adding a Debugf-style helper that
// defers payload computation until the debug level is actually enabled.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New builds a Logger writing human-readable console output at debug
// in development and JSON at info in production, matching zap's own
// NewDevelopment/NewProduction presets rather than hand-rolled
// encoders.
func New(debug bool) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zl.Sugar(), level: level}, nil
}

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// DebugEnabled reports whether the debug level would actually emit, so
// callers can skip building an expensive payload (e.g. a full queue
// dump) when it wouldn't be logged anyway.
func (l *Logger) DebugEnabled() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// DebugLazy logs msg at debug level with fields produced by build,
// only calling build if the debug level is enabled.
func (l *Logger) DebugLazy(msg string, build func() []interface{}) {
	if !l.DebugEnabled() {
		return
	}
	l.Debugw(msg, build()...)
}
