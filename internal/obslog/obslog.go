// Package obslog wraps zap so every Strata component logs through a single,
// optionally-disabled logger instead of reaching for the global zap logger
// directly.
package obslog

import "go.uber.org/zap"

// Logger is the structured logger Strata components accept. It is always
// non-nil: New() falls back to a discard logger so library use never forces
// output on an embedding application.
type Logger struct {
	z *zap.SugaredLogger
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		return Nop()
	}
	return &Logger{z: z.Sugar()}
}

// Default builds a development-friendly logger (console encoder, debug
// level). Intended for cmd/strata and tests that want visible output.
func Default() *Logger {
	z, err := zap.NewDevelopment()
	if err != nil {
		return Nop()
	}
	return New(z)
}

func (l *Logger) With(args ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{z: l.z.With(args...)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.z.Debugw(msg, kv...)
}

func (l *Logger) Infow(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.z.Infow(msg, kv...)
}

func (l *Logger) Warnw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.z.Warnw(msg, kv...)
}

func (l *Logger) Errorw(msg string, kv ...interface{}) {
	if l == nil {
		return
	}
	l.z.Errorw(msg, kv...)
}

// Sync flushes any buffered log entries. Safe to call on a nil Logger.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.z.Sync()
}
