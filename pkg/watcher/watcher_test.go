package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSuppressorExpiresLazily(t *testing.T) {
	s := NewSuppressor(20 * time.Millisecond)
	s.Record("/a/b.txt")
	if !s.ShouldSuppress("/a/b.txt") {
		t.Fatalf("expected fresh record to suppress")
	}
	time.Sleep(30 * time.Millisecond)
	if s.ShouldSuppress("/a/b.txt") {
		t.Fatalf("expected expired record to no longer suppress")
	}
}

func TestWatcherEmitsDebouncedCreateEvent(t *testing.T) {
	root := t.TempDir()
	sup := NewSuppressor(DefaultSuppressionTTL)
	w, err := New("t1", SideTarget, root, sup, 30*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, errs := w.Run(ctx)

	path := filepath.Join(root, "AGENTS.md")
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.TargetID != "t1" || ev.Side != SideTarget || ev.Path != path {
			t.Fatalf("unexpected event %+v", ev)
		}
	case err := <-errs:
		t.Fatalf("watcher error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for create event")
	}
}

func TestWatcherSuppressesSelfWrites(t *testing.T) {
	root := t.TempDir()
	sup := NewSuppressor(DefaultSuppressionTTL)
	w, err := New("t1", SideTarget, root, sup, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _ := w.Run(ctx)

	path := filepath.Join(root, "AGENTS.md")
	sup.Record(path)
	if err := os.WriteFile(path, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		t.Fatalf("expected self-write to be suppressed, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
