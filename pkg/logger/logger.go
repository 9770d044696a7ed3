// Package logger owns the process-wide structured logger. The teacher's
// own pkg/logger is a hand-rolled stdlib logger (goneat's go.mod pulls in
// sirupsen/logrus only indirectly, never imports it itself); this module
// instead adopts go.uber.org/zap the way the rest of the example corpus
// actually uses a structured logging library directly
// (Gizzahub-gzh-cli/cmd/monitoring's notifiers take a *zap.Logger and log
// with zap.String/zap.Int fields), rather than reinventing a field type
// and a pretty-printer the ecosystem already solved.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the process-wide base logger is built.
type Config struct {
	Level Level
	JSON  bool
}

// Level is a zap logging level; re-exported so callers don't need to
// import zapcore directly for the common case.
type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	mu   sync.Mutex
	base *zap.Logger
)

// Initialize builds the process-wide base logger. Safe to call more than
// once (e.g. after reloading config); the previous logger's buffered
// output is flushed first.
func Initialize(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if base != nil {
		_ = base.Sync()
	}

	zcfg := zap.NewProductionConfig()
	if !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(cfg.Level)

	l, err := zcfg.Build()
	if err != nil {
		return err
	}
	base = l
	return nil
}

// Named returns a child logger scoped to component ("engine", "watcher",
// "storegit", "store", "machines", ...). If Initialize has not been
// called yet it returns a no-op logger rather than panicking, so library
// code never needs to guard every call site on initialization order.
func Named(component string) *zap.Logger {
	mu.Lock()
	b := base
	mu.Unlock()
	if b == nil {
		b = zap.NewNop()
	}
	return b.Named(component)
}

// Sync flushes the base logger's buffered output. Call once on shutdown.
func Sync() {
	mu.Lock()
	b := base
	mu.Unlock()
	if b != nil {
		_ = b.Sync()
	}
}
