package app

import (
	"log/slog"
	"testing"
)

// Close must be safe on a partially initialized App: Setup defers it on any
// provider failure, at which point later fields are still nil.
func TestClosePartiallyInitialized(t *testing.T) {
	a := &App{Logger: slog.New(slog.DiscardHandler)}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() on empty app: %v", err)
	}
}

func TestCloseRunsOtelCleanup(t *testing.T) {
	called := false
	a := &App{
		Logger:      slog.New(slog.DiscardHandler),
		otelCleanup: func() { called = true },
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	if !called {
		t.Error("Close() did not run the otel cleanup")
	}
}
