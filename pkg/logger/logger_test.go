/*
Copyright © 2025 3 Leaps <info@3leaps.net>
*/
package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNamedReturnsNopLoggerBeforeInitialize(t *testing.T) {
	mu.Lock()
	base = nil
	mu.Unlock()

	l := Named("engine")
	if l == nil {
		t.Fatal("expected a non-nil logger even before Initialize")
	}
	// Must not panic: the point of falling back to zap.NewNop is that
	// every call site can log unconditionally.
	l.Info("reconciled", zap.String("target_id", "t1"))
}

func TestInitializeThenNamedProducesScopedLogger(t *testing.T) {
	if err := Initialize(Config{Level: DebugLevel, JSON: true}); err != nil {
		t.Fatal(err)
	}
	defer Sync()

	l := Named("watcher")
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
	l.Debug("watch started", zap.String("path", "/tmp/example"))
}

func TestInitializeTwiceFlushesPreviousLogger(t *testing.T) {
	if err := Initialize(Config{Level: InfoLevel, JSON: true}); err != nil {
		t.Fatal(err)
	}
	if err := Initialize(Config{Level: DebugLevel, JSON: false}); err != nil {
		t.Fatal(err)
	}
	defer Sync()

	l := Named("store")
	l.Info("re-initialized")
}
