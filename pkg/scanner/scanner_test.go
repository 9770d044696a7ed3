package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/agentsync/pkg/pattern"
)

func mkfile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanBasicIncludeIgnore(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "AGENTS.md", "rules")
	mkfile(t, root, "notes.txt", "irrelevant")
	mkfile(t, root, ".claude/settings.json", "{}")
	mkfile(t, root, "node_modules/pkg/index.js", "ignored")

	includes := []string{"AGENTS.md", ".claude/**"}
	ignores := pattern.ExpandIgnore([]string{"node_modules/**"})

	entries, err := Scan(root, includes, ignores)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"AGENTS.md": true, ".claude/settings.json": true}
	if len(entries) != len(want) {
		t.Fatalf("got %v, want keys of %v", entries, want)
	}
	for _, e := range entries {
		if !want[e.RelativePath] {
			t.Errorf("unexpected entry %q", e.RelativePath)
		}
	}
}

func TestScanResultsSortedAndDeduped(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "b.md", "x")
	mkfile(t, root, "a.md", "x")

	entries, err := Scan(root, []string{"*.md"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].RelativePath != "a.md" || entries[1].RelativePath != "b.md" {
		t.Fatalf("expected sorted [a.md b.md], got %v", entries)
	}
}

func TestScanSymlinkNotFollowed(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "real/.claude/settings.json", "{}")
	if err := os.Symlink(filepath.Join(root, "real", ".claude"), filepath.Join(root, "linked")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := Scan(root, []string{"linked/**"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].IsSymlink || entries[0].RelativePath != "linked" {
		t.Fatalf("expected linked to surface as a single symlink entry, got %v", entries)
	}
}

// TestScanExcludesPathsUnderSymlinkedParent exercises the same rule as
// TestScanSymlinkNotFollowed from the other direction: a path nested two
// levels under a symlinked directory must not surface, because Scan never
// descends into a symlink regardless of what it points at. The symlinked
// directory itself is the root segment of the include pattern, so it
// surfaces as the single symlink entry.
func TestScanExcludesPathsUnderSymlinkedParent(t *testing.T) {
	root := t.TempDir()
	mkfile(t, root, "real/.claude/settings.json", "{}")
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "linkedDir")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	entries, err := Scan(root, []string{"linkedDir/.claude/settings.json"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].IsSymlink || entries[0].RelativePath != "linkedDir" {
		t.Fatalf("expected only linkedDir as a symlink entry and nothing under it, got %v", entries)
	}
}
