package gitctx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenInitializesRepoWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Fatalf("expected .git to be created: %v", err)
	}
	if s.Root() != dir {
		t.Fatalf("got root %q, want %q", s.Root(), dir)
	}
}

func TestQueueCommitCoalescesLastMessageWins(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.commitDebounce = 20 * time.Millisecond

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.QueueCommit("first message")
	s.QueueCommit("second message")

	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	headRef, err := s.repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if headRef.Hash().IsZero() {
		t.Fatalf("expected a commit to exist after flush")
	}

	commit, err := s.repo.CommitObject(headRef.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if commit.Message != "second message" {
		t.Fatalf("expected coalesced commit to keep only the latest message, got %q", commit.Message)
	}
}

func TestCommittedContentReadsHeadTree(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	if content, err := s.CommittedContent("AGENTS.md"); err != nil || content != nil {
		t.Fatalf("expected nil content before any commit, got %q err=%v", content, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.commitDebounce = time.Millisecond
	s.QueueCommit("add AGENTS.md")
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	content, err := s.CommittedContent("AGENTS.md")
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "hello" {
		t.Fatalf("got %q, want hello", content)
	}

	if content, err := s.CommittedContent("missing.md"); err != nil || content != nil {
		t.Fatalf("expected nil for missing path, got %q err=%v", content, err)
	}
}

func TestThreeWayMergeCleanAndConflicting(t *testing.T) {
	base := []byte("greeting = hello\n")
	oursOnly := []byte("greeting = hello\nfarewell = bye\n")

	result, err := ThreeWayMerge(base, oursOnly, base)
	if err != nil {
		t.Fatal(err)
	}
	if result.HasConflicts {
		t.Fatalf("expected a clean merge when only one side changed, got conflict content %q", result.Content)
	}
	if string(result.Content) != string(oursOnly) {
		t.Fatalf("got %q, want %q", result.Content, oursOnly)
	}

	ours := []byte("greeting = bonjour\n")
	theirs := []byte("greeting = hola\n")
	conflictResult, err := ThreeWayMerge(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if !conflictResult.HasConflicts {
		t.Fatalf("expected overlapping edits to conflict, got %q", conflictResult.Content)
	}
	text := string(conflictResult.Content)
	for _, needle := range []string{"<<<<<<<", "=======", ">>>>>>>", "bonjour", "hola"} {
		if !strings.Contains(text, needle) {
			t.Fatalf("expected conflict content to mention %q, got %q", needle, text)
		}
	}
}
