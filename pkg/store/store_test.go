package store

import (
	"testing"

	"github.com/fulmenhq/agentsync/pkg/pattern"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateTargetEnforcesUniqueness(t *testing.T) {
	s := openTest(t)
	target := Target{ID: "t1", Kind: TargetKindRepo, LocalPath: "/home/dev/repo", StorePath: "repos/repo", Status: TargetStatusActive}
	if err := s.CreateTarget(target); err != nil {
		t.Fatal(err)
	}

	dup := target
	dup.ID = "t2"
	if err := s.CreateTarget(dup); err == nil {
		t.Fatalf("expected duplicate local_path/store_path to be rejected")
	}

	got, err := s.GetTarget("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.LocalPath != target.LocalPath {
		t.Fatalf("got %+v", got)
	}
}

func TestDeleteTargetCascades(t *testing.T) {
	s := openTest(t)
	target := Target{ID: "t1", Kind: TargetKindRepo, LocalPath: "/home/dev/repo", StorePath: "repos/repo", Status: TargetStatusActive}
	if err := s.CreateTarget(target); err != nil {
		t.Fatal(err)
	}
	tf := TrackedFile{ID: "f1", TargetID: "t1", RelativePath: "AGENTS.md", Kind: FileKindFile, SyncStatus: SyncStatusSynced}
	if err := s.PutTrackedFile(tf); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOverride(PatternOverride{TargetID: "t1", Kind: PatternKindInclude, Pattern: "AGENTS.md", Enabled: false}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTarget("t1"); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetTarget("t1"); err != ErrNotFound {
		t.Fatalf("expected target gone, got err=%v", err)
	}
	if _, err := s.GetTrackedFile("t1", "AGENTS.md"); err != ErrNotFound {
		t.Fatalf("expected tracked file cascaded, got err=%v", err)
	}
	overrides, err := s.ListOverrides("t1", PatternKindInclude)
	if err != nil {
		t.Fatal(err)
	}
	if len(overrides) != 0 {
		t.Fatalf("expected overrides cascaded, got %v", overrides)
	}

	// local_path/store_path should be free for reuse now.
	if err := s.CreateTarget(target); err != nil {
		t.Fatalf("expected path to be reusable after delete: %v", err)
	}
}

func TestConflictPendingUniquenessAndResolution(t *testing.T) {
	s := openTest(t)
	tf := TrackedFile{ID: "f1", TargetID: "t1", RelativePath: "AGENTS.md", Kind: FileKindFile, SyncStatus: SyncStatusConflict}
	c := Conflict{ID: "c1", TrackedFileID: "f1", Status: ConflictStatusPending}
	if err := s.PutConflictAndUpdateTrackedFile(c, tf); err != nil {
		t.Fatal(err)
	}

	got, err := s.PendingConflictForFile("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "c1" {
		t.Fatalf("got %+v", got)
	}

	if err := s.ResolveConflict("c1", ConflictStatusResolvedAuto); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PendingConflictForFile("f1"); err != ErrNotFound {
		t.Fatalf("expected no pending conflict after resolution, got err=%v", err)
	}
}

func TestEffectivePatternsLocalsThenGlobalsWithOverride(t *testing.T) {
	s := openTest(t)
	if err := s.SeedDefaultPatterns(PatternKindInclude, FromPatternGlobals(pattern.DefaultIncludePatterns())); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOverride(PatternOverride{TargetID: "t1", Kind: PatternKindInclude, Pattern: "CLAUDE.md", Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLocal(LocalPattern{TargetID: "t1", Kind: PatternKindInclude, Pattern: "TEAM.md", Enabled: true}); err != nil {
		t.Fatal(err)
	}

	resolved, err := s.EffectivePatterns("t1", PatternKindInclude)
	if err != nil {
		t.Fatal(err)
	}
	if resolved[0].Pattern != "TEAM.md" || resolved[0].Source != pattern.SourceLocal {
		t.Fatalf("expected local pattern first, got %+v", resolved[0])
	}
	for _, p := range resolved[1:] {
		if p.Pattern == "CLAUDE.md" && p.Enabled {
			t.Fatalf("expected override to disable CLAUDE.md, got %+v", p)
		}
	}
}

func TestSizeThresholdFallsBackToDefault(t *testing.T) {
	s := openTest(t)
	if got := s.SizeThresholdBytes(); got != DefaultSizeThresholdBytes {
		t.Fatalf("got %d, want default %d", got, DefaultSizeThresholdBytes)
	}
	if err := s.SetSetting("size_threshold_bytes", int64(-5)); err != nil {
		t.Fatal(err)
	}
	if got := s.SizeThresholdBytes(); got != DefaultSizeThresholdBytes {
		t.Fatalf("got %d, want default for negative setting", got)
	}
	if err := s.SetSetting("size_threshold_bytes", int64(1024)); err != nil {
		t.Fatal(err)
	}
	if got := s.SizeThresholdBytes(); got != 1024 {
		t.Fatalf("got %d, want 1024", got)
	}
}
