// Package settingssync exports and reimports the engine's global settings,
// global pattern registry, and per-target pattern overrides as
// <store>/sync-settings.json, the second of the two structured
// configuration files (alongside pkg/machines's machines.json) that ride
// along in the store's own git history.
//
// Grounded on pkg/machines's encoding/json + manual-sort persistence idiom,
// itself grounded on the teacher's `internal/server/manager.go`
// Save/Load style; the deferred-override bookkeeping below has no teacher
// analog since goneat never has a "this row refers to an entity that does
// not exist locally yet" problem.
package settingssync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fulmenhq/agentsync/pkg/store"
)

// PatternEntry mirrors one store.GlobalPattern for export.
type PatternEntry struct {
	Pattern string              `json:"pattern"`
	Enabled bool                `json:"enabled"`
	Source  store.PatternSource `json:"source"`
}

// OverrideEntry is one per-target override, with the target identified by
// its store_path rather than its local database ID, since the ID is not
// stable across machines.
type OverrideEntry struct {
	Kind    store.PatternKind `json:"kind"`
	Pattern string            `json:"pattern"`
	Enabled bool              `json:"enabled"`
}

// Document is the sync-settings.json schema: the settings table plus
// file_patterns, ignore_patterns, and a per_target_overrides section
// keyed by store_path.
type Document struct {
	Settings           map[string]json.RawMessage `json:"settings"`
	FilePatterns       []PatternEntry              `json:"file_patterns"`
	IgnorePatterns     []PatternEntry              `json:"ignore_patterns"`
	PerTargetOverrides map[string][]OverrideEntry  `json:"per_target_overrides"`
}

func emptyDocument() Document {
	return Document{
		Settings:           map[string]json.RawMessage{},
		PerTargetOverrides: map[string][]OverrideEntry{},
	}
}

// Path returns sync-settings.json's location under storeRoot.
func Path(storeRoot string) string {
	return filepath.Join(storeRoot, "sync-settings.json")
}

// Load reads sync-settings.json, returning an empty document if it is
// absent or fails to parse.
func Load(storeRoot string) (Document, error) {
	data, err := os.ReadFile(Path(storeRoot)) // #nosec G304 -- fixed path under the store root
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return Document{}, fmt.Errorf("read settings file: %w", err)
	}
	var doc Document
	if json.Unmarshal(data, &doc) != nil {
		return emptyDocument(), nil
	}
	if doc.Settings == nil {
		doc.Settings = map[string]json.RawMessage{}
	}
	if doc.PerTargetOverrides == nil {
		doc.PerTargetOverrides = map[string][]OverrideEntry{}
	}
	return doc, nil
}

// Save writes doc to sync-settings.json, sorting every slice field so the
// file is byte-stable across exports of identical logical content — map
// keys are already sorted alphabetically by encoding/json.
func Save(storeRoot string, doc Document) error {
	sortPatternEntries(doc.FilePatterns)
	sortPatternEntries(doc.IgnorePatterns)
	for _, overrides := range doc.PerTargetOverrides {
		sortOverrideEntries(overrides)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings file: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(storeRoot, 0o750); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	return os.WriteFile(Path(storeRoot), data, 0o644) // #nosec G306 -- shared, git-tracked document
}

func sortPatternEntries(entries []PatternEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Pattern < entries[j].Pattern })
}

func sortOverrideEntries(entries []OverrideEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Pattern < entries[j].Pattern
	})
}

// Export builds a Document from the current database state: every stored
// setting, both global pattern registries, and every target's per-target
// overrides keyed by its store_path.
func Export(st *store.Store) (Document, error) {
	doc := emptyDocument()

	settings, err := st.ListSettings()
	if err != nil {
		return Document{}, fmt.Errorf("list settings: %w", err)
	}
	doc.Settings = settings

	for _, kind := range []store.PatternKind{store.PatternKindInclude, store.PatternKindIgnore} {
		patterns, err := st.ListGlobalPatterns(kind)
		if err != nil {
			return Document{}, fmt.Errorf("list %s patterns: %w", kind, err)
		}
		entries := make([]PatternEntry, 0, len(patterns))
		for _, p := range patterns {
			entries = append(entries, PatternEntry{Pattern: p.Pattern, Enabled: p.Enabled, Source: p.Source})
		}
		if kind == store.PatternKindInclude {
			doc.FilePatterns = entries
		} else {
			doc.IgnorePatterns = entries
		}
	}

	targets, err := st.ListTargets()
	if err != nil {
		return Document{}, fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		var overrides []OverrideEntry
		for _, kind := range []store.PatternKind{store.PatternKindInclude, store.PatternKindIgnore} {
			targetOverrides, err := st.ListOverrides(t.ID, kind)
			if err != nil {
				return Document{}, fmt.Errorf("list overrides for %s: %w", t.ID, err)
			}
			for _, o := range targetOverrides {
				overrides = append(overrides, OverrideEntry{Kind: o.Kind, Pattern: o.Pattern, Enabled: o.Enabled})
			}
		}
		if len(overrides) > 0 {
			doc.PerTargetOverrides[t.StorePath] = overrides
		}
	}

	return doc, nil
}

// ExportAndSave is the common "settings changed" path: export the current
// state and rewrite sync-settings.json. Callers queue a git commit
// afterward.
func ExportAndSave(st *store.Store, storeRoot string) error {
	doc, err := Export(st)
	if err != nil {
		return err
	}
	return Save(storeRoot, doc)
}

// Import applies doc's settings and global patterns unconditionally, and
// applies each per-target override immediately when storePathToTargetID
// has an entry for its store_path. Overrides for a store_path with no
// entry are returned rather than applied, so the caller (a Deferred) can
// hold them until that target links.
func Import(st *store.Store, doc Document, storePathToTargetID map[string]string) (deferred map[string][]OverrideEntry, err error) {
	for name, raw := range doc.Settings {
		if err := st.SetSetting(name, raw); err != nil {
			return nil, fmt.Errorf("import setting %s: %w", name, err)
		}
	}

	for _, entry := range doc.FilePatterns {
		if err := st.UpsertGlobalPattern(store.GlobalPattern{Pattern: entry.Pattern, Enabled: entry.Enabled, Source: entry.Source}, store.PatternKindInclude); err != nil {
			return nil, fmt.Errorf("import file pattern %s: %w", entry.Pattern, err)
		}
	}
	for _, entry := range doc.IgnorePatterns {
		if err := st.UpsertGlobalPattern(store.GlobalPattern{Pattern: entry.Pattern, Enabled: entry.Enabled, Source: entry.Source}, store.PatternKindIgnore); err != nil {
			return nil, fmt.Errorf("import ignore pattern %s: %w", entry.Pattern, err)
		}
	}

	deferred = map[string][]OverrideEntry{}
	for storePath, overrides := range doc.PerTargetOverrides {
		targetID, linked := storePathToTargetID[storePath]
		if !linked {
			deferred[storePath] = overrides
			continue
		}
		if err := applyOverrides(st, targetID, overrides); err != nil {
			return nil, err
		}
	}
	return deferred, nil
}

func applyOverrides(st *store.Store, targetID string, overrides []OverrideEntry) error {
	for _, o := range overrides {
		if err := st.SetOverride(store.PatternOverride{TargetID: targetID, Kind: o.Kind, Pattern: o.Pattern, Enabled: o.Enabled}); err != nil {
			return fmt.Errorf("apply override %s/%s for target %s: %w", o.Kind, o.Pattern, targetID, err)
		}
	}
	return nil
}

// Deferred holds per-target overrides imported while their target was not
// yet linked on this machine, keyed by store_path, so they can be applied
// the moment that target becomes linked.
type Deferred struct {
	mu          sync.Mutex
	byStorePath map[string][]OverrideEntry
}

// NewDeferred seeds a Deferred from Import's return value.
func NewDeferred(initial map[string][]OverrideEntry) *Deferred {
	d := &Deferred{byStorePath: map[string][]OverrideEntry{}}
	for k, v := range initial {
		d.byStorePath[k] = v
	}
	return d
}

// Hold records overrides for a store_path that has no linked target yet.
func (d *Deferred) Hold(storePath string, overrides []OverrideEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byStorePath[storePath] = overrides
}

// ApplyForNewlyLinkedTarget applies and forgets any overrides held for
// storePath, now that targetID has been linked to it. It is a no-op if
// nothing was held.
func (d *Deferred) ApplyForNewlyLinkedTarget(st *store.Store, storePath, targetID string) error {
	d.mu.Lock()
	overrides, ok := d.byStorePath[storePath]
	if ok {
		delete(d.byStorePath, storePath)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return applyOverrides(st, targetID, overrides)
}

// Pending reports the store_paths currently awaiting a linked target.
func (d *Deferred) Pending() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.byStorePath))
	for k := range d.byStorePath {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
