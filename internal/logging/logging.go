// Package logging provides the structured logging facade used across
// the server: a thin wrapper over zap generalizing the teacher's
// hand-rolled leveled/colored logger (pkg/logger) onto a production
// structured-logging library.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the handful of named
// operations the rest of the codebase calls, mirroring the teacher's
// Debug/Info/Warn/Error/Fatal facade shape.
type Logger struct {
	base *zap.SugaredLogger
}

// New builds a Logger. When development is true, output uses zap's
// human-readable console encoder (console colors, caller info); when
// false, it emits JSON suited to log aggregation.
func New(development bool, level string) (*Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{base: z.Sugar()}, nil
}

// Named returns a child logger that prefixes every message with name,
// mirroring the teacher's per-component logger instances (e.g. one
// per Session).
func (l *Logger) Named(name string) *Logger {
	return &Logger{base: l.base.Named(name)}
}

// With returns a child logger with the given structured fields
// attached to every subsequent message.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.base.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.base.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.base.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.base.Errorw(msg, kv...) }
func (l *Logger) Fatalw(msg string, kv ...interface{}) { l.base.Fatalw(msg, kv...) }

// Sync flushes any buffered log entries; callers should defer this
// from main after constructing the root Logger.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// Nop returns a Logger that discards everything, useful in tests that
// exercise components requiring a non-nil Logger.
func Nop() *Logger {
	return &Logger{base: zap.NewNop().Sugar()}
}
