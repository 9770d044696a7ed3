package settingssync

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/fulmenhq/agentsync/pkg/store"
)

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func openTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(root)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, root
}

func TestLoadReturnsEmptyDocumentWhenMissing(t *testing.T) {
	root := t.TempDir()
	doc, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings == nil || doc.PerTargetOverrides == nil {
		t.Fatal("expected non-nil maps for a missing settings file")
	}
}

func TestLoadRecoversFromCorruptFile(t *testing.T) {
	root := t.TempDir()
	if err := writeRaw(Path(root), "{not json"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	doc, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Settings) != 0 || len(doc.PerTargetOverrides) != 0 {
		t.Fatal("expected corrupt file to be treated as empty")
	}
}

func TestExportAndSaveRoundTrip(t *testing.T) {
	st, root := openTestStore(t)

	if err := st.SetSetting("size_threshold_bytes", int64(1024)); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := st.UpsertGlobalPattern(store.GlobalPattern{Pattern: "**/*.md", Enabled: true, Source: store.PatternSourceDefault}, store.PatternKindInclude); err != nil {
		t.Fatalf("UpsertGlobalPattern include: %v", err)
	}
	if err := st.UpsertGlobalPattern(store.GlobalPattern{Pattern: "**/.git/**", Enabled: true, Source: store.PatternSourceDefault}, store.PatternKindIgnore); err != nil {
		t.Fatalf("UpsertGlobalPattern ignore: %v", err)
	}
	if err := st.CreateTarget(store.Target{ID: "t1", Kind: store.TargetKindRepo, StorePath: "repos/demo", LocalPath: "/home/alice/demo", Status: store.TargetStatusActive}); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	if err := st.SetOverride(store.PatternOverride{TargetID: "t1", Kind: store.PatternKindInclude, Pattern: "**/*.md", Enabled: false}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	if err := ExportAndSave(st, root); err != nil {
		t.Fatalf("ExportAndSave: %v", err)
	}

	doc, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.FilePatterns) != 1 || doc.FilePatterns[0].Pattern != "**/*.md" {
		t.Fatalf("unexpected file patterns: %+v", doc.FilePatterns)
	}
	if len(doc.IgnorePatterns) != 1 || doc.IgnorePatterns[0].Pattern != "**/.git/**" {
		t.Fatalf("unexpected ignore patterns: %+v", doc.IgnorePatterns)
	}
	overrides, ok := doc.PerTargetOverrides["repos/demo"]
	if !ok || len(overrides) != 1 || overrides[0].Pattern != "**/*.md" || overrides[0].Enabled {
		t.Fatalf("unexpected per-target overrides: %+v", doc.PerTargetOverrides)
	}
	var threshold int64
	if err := json.Unmarshal(doc.Settings["size_threshold_bytes"], &threshold); err != nil {
		t.Fatalf("unmarshal exported setting: %v", err)
	}
	if threshold != 1024 {
		t.Fatalf("expected exported size_threshold_bytes 1024, got %d", threshold)
	}
}

func TestImportAppliesLinkedOverridesImmediately(t *testing.T) {
	st, _ := openTestStore(t)
	if err := st.CreateTarget(store.Target{ID: "t1", Kind: store.TargetKindRepo, StorePath: "repos/demo", LocalPath: "/home/alice/demo", Status: store.TargetStatusActive}); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	doc := emptyDocument()
	doc.PerTargetOverrides["repos/demo"] = []OverrideEntry{{Kind: store.PatternKindInclude, Pattern: "**/*.md", Enabled: false}}

	deferred, err := Import(st, doc, map[string]string{"repos/demo": "t1"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(deferred) != 0 {
		t.Fatalf("expected no deferred overrides for an already-linked target, got %+v", deferred)
	}

	overrides, err := st.ListOverrides("t1", store.PatternKindInclude)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Pattern != "**/*.md" || overrides[0].Enabled {
		t.Fatalf("expected the override to be applied immediately, got %+v", overrides)
	}
}

func TestImportDefersOverridesForUnlinkedTarget(t *testing.T) {
	st, _ := openTestStore(t)

	doc := emptyDocument()
	doc.PerTargetOverrides["repos/not-yet-linked"] = []OverrideEntry{{Kind: store.PatternKindIgnore, Pattern: "**/*.log", Enabled: true}}

	deferred, err := Import(st, doc, map[string]string{})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	overrides, ok := deferred["repos/not-yet-linked"]
	if !ok || len(overrides) != 1 {
		t.Fatalf("expected the override to be deferred, got %+v", deferred)
	}
}

func TestDeferredAppliesOnceTargetLinks(t *testing.T) {
	st, _ := openTestStore(t)
	if err := st.CreateTarget(store.Target{ID: "t2", Kind: store.TargetKindRepo, StorePath: "repos/late", LocalPath: "/home/alice/late", Status: store.TargetStatusActive}); err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}

	d := NewDeferred(map[string][]OverrideEntry{
		"repos/late": {{Kind: store.PatternKindInclude, Pattern: "**/*.yaml", Enabled: true}},
	})

	if pending := d.Pending(); len(pending) != 1 || pending[0] != "repos/late" {
		t.Fatalf("expected repos/late pending, got %+v", pending)
	}

	if err := d.ApplyForNewlyLinkedTarget(st, "repos/late", "t2"); err != nil {
		t.Fatalf("ApplyForNewlyLinkedTarget: %v", err)
	}

	overrides, err := st.ListOverrides("t2", store.PatternKindInclude)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Pattern != "**/*.yaml" {
		t.Fatalf("expected the deferred override to be applied, got %+v", overrides)
	}
	if pending := d.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending overrides after applying, got %+v", pending)
	}
}

func TestDeferredApplyIsNoOpWhenNothingHeld(t *testing.T) {
	st, _ := openTestStore(t)
	d := NewDeferred(nil)
	if err := d.ApplyForNewlyLinkedTarget(st, "repos/never-held", "t3"); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
}

func TestSaveSortsSlicesForStableDiff(t *testing.T) {
	root := t.TempDir()
	doc := emptyDocument()
	doc.FilePatterns = []PatternEntry{
		{Pattern: "**/*.yaml", Enabled: true},
		{Pattern: "**/*.json", Enabled: true},
	}
	if err := Save(root, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FilePatterns[0].Pattern != "**/*.json" || loaded.FilePatterns[1].Pattern != "**/*.yaml" {
		t.Fatalf("expected file patterns sorted alphabetically, got %+v", loaded.FilePatterns)
	}
}
