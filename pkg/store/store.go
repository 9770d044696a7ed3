package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned when a uniqueness invariant would be violated.
var ErrAlreadyExists = errors.New("store: already exists")

// DefaultSizeThresholdBytes is used whenever the size-threshold setting is
// absent, zero, negative, or otherwise not a usable positive number.
const DefaultSizeThresholdBytes int64 = 500 * 1024 * 1024

const currentSchemaVersion = 1

// Store is the embedded metadata store: sync targets, tracked files,
// conflicts, the pattern registry, and settings, backed by a badger
// key-value database rooted under the store repository's .db directory
// (excluded from the store's own git history by its top-level
// .gitignore).
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the metadata store under storeRoot/.db.
func Open(storeRoot string) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Join(storeRoot, ".db")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureSchemaVersion() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keySchemaVersion())
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, keySchemaVersion(), currentSchemaVersion)
	})
}

// SchemaVersion returns the currently persisted schema version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keySchemaVersion(), &v)
	})
	return v, err
}

// --- key helpers ---

func keySchemaVersion() []byte { return []byte("meta:schema_version") }

func keyTarget(id string) []byte              { return []byte("target:" + id) }
func keyTargetByLocalPath(p string) []byte     { return []byte("target_by_local:" + p) }
func keyTargetByStorePath(p string) []byte     { return []byte("target_by_store:" + p) }
func keyTargetPrefix() []byte                  { return []byte("target:") }

func keyTrackedFile(targetID, relPath string) []byte {
	return []byte("tfile:" + targetID + ":" + relPath)
}
func keyTrackedFileByID(id string) []byte { return []byte("tfile_id:" + id) }
func keyTrackedFilePrefixForTarget(targetID string) []byte {
	return []byte("tfile:" + targetID + ":")
}

func keyConflict(id string) []byte { return []byte("conflict:" + id) }
func keyPendingConflictForFile(trackedFileID string) []byte {
	return []byte("conflict_pending:" + trackedFileID)
}

func keyGlobalPattern(kind PatternKind, pattern string) []byte {
	return []byte("pattern_global:" + string(kind) + ":" + pattern)
}
func keyGlobalPatternPrefix(kind PatternKind) []byte {
	return []byte("pattern_global:" + string(kind) + ":")
}
func keyOverride(targetID string, kind PatternKind, pattern string) []byte {
	return []byte("pattern_override:" + targetID + ":" + string(kind) + ":" + pattern)
}
func keyOverridePrefix(targetID string, kind PatternKind) []byte {
	return []byte("pattern_override:" + targetID + ":" + string(kind) + ":")
}
func keyLocal(targetID string, kind PatternKind, pattern string) []byte {
	return []byte("pattern_local:" + targetID + ":" + string(kind) + ":" + pattern)
}
func keyLocalPrefix(targetID string, kind PatternKind) []byte {
	return []byte("pattern_local:" + targetID + ":" + string(kind) + ":")
}

func keySetting(name string) []byte { return []byte("setting:" + name) }
func keySettingPrefix() []byte      { return []byte("setting:") }

// --- json helpers ---

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// --- targets ---

// CreateTarget inserts a new Target, enforcing local_path/store_path
// uniqueness across all targets.
func (s *Store) CreateTarget(t Target) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, keyTargetByLocalPath(t.LocalPath)); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: local_path %s already registered", ErrAlreadyExists, t.LocalPath)
		}
		if ok, err := exists(txn, keyTargetByStorePath(t.StorePath)); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: store_path %s already registered", ErrAlreadyExists, t.StorePath)
		}
		if err := setJSON(txn, keyTarget(t.ID), t); err != nil {
			return err
		}
		if err := txn.Set(keyTargetByLocalPath(t.LocalPath), []byte(t.ID)); err != nil {
			return err
		}
		return txn.Set(keyTargetByStorePath(t.StorePath), []byte(t.ID))
	})
}

// GetTarget looks up a Target by id.
func (s *Store) GetTarget(id string) (Target, error) {
	var t Target
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyTarget(id), &t)
	})
	return t, err
}

// UpdateTarget overwrites an existing Target record (identity fields
// local_path/store_path are assumed unchanged; re-registering under a new
// path goes through delete+create so uniqueness indices stay correct).
func (s *Store) UpdateTarget(t Target) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if ok, err := exists(txn, keyTarget(t.ID)); err != nil {
			return err
		} else if !ok {
			return ErrNotFound
		}
		return setJSON(txn, keyTarget(t.ID), t)
	})
}

// ListTargets returns every registered Target.
func (s *Store) ListTargets() ([]Target, error) {
	var out []Target
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keyTargetPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t Target
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// DeleteTarget removes a Target and cascades: its tracked files, their
// pending conflicts, and its per-target pattern overrides/locals.
func (s *Store) DeleteTarget(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var t Target
		if err := getJSON(txn, keyTarget(id), &t); err != nil {
			return err
		}

		prefix := keyTrackedFilePrefixForTarget(id)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var tfileKeys [][]byte
		var tfiles []TrackedFile
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var tf TrackedFile
			key := append([]byte(nil), it.Item().Key()...)
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &tf) }); err != nil {
				it.Close()
				return err
			}
			tfileKeys = append(tfileKeys, key)
			tfiles = append(tfiles, tf)
		}
		it.Close()

		for i, tf := range tfiles {
			if err := txn.Delete(tfileKeys[i]); err != nil {
				return err
			}
			if err := txn.Delete(keyTrackedFileByID(tf.ID)); err != nil {
				return err
			}
			if err := deletePendingConflict(txn, tf.ID); err != nil {
				return err
			}
		}

		for _, kind := range []PatternKind{PatternKindInclude, PatternKindIgnore} {
			if err := deletePrefix(txn, keyOverridePrefix(id, kind)); err != nil {
				return err
			}
			if err := deletePrefix(txn, keyLocalPrefix(id, kind)); err != nil {
				return err
			}
		}

		if err := txn.Delete(keyTarget(id)); err != nil {
			return err
		}
		if err := txn.Delete(keyTargetByLocalPath(t.LocalPath)); err != nil {
			return err
		}
		return txn.Delete(keyTargetByStorePath(t.StorePath))
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, append([]byte(nil), it.Item().Key()...))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- tracked files ---

// PutTrackedFile inserts or overwrites a TrackedFile keyed by
// (target_id, relative_path).
func (s *Store) PutTrackedFile(tf TrackedFile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putTrackedFile(txn, tf)
	})
}

func putTrackedFile(txn *badger.Txn, tf TrackedFile) error {
	if err := setJSON(txn, keyTrackedFile(tf.TargetID, tf.RelativePath), tf); err != nil {
		return err
	}
	return txn.Set(keyTrackedFileByID(tf.ID), []byte(tf.TargetID+"\x00"+tf.RelativePath))
}

// GetTrackedFile looks up a TrackedFile by (target_id, relative_path).
func (s *Store) GetTrackedFile(targetID, relativePath string) (TrackedFile, error) {
	var tf TrackedFile
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyTrackedFile(targetID, relativePath), &tf)
	})
	return tf, err
}

// DeleteTrackedFile removes a TrackedFile record and any pending conflict
// linked to it — used on "both sides deleted" and on a path falling out
// of the enabled include set.
func (s *Store) DeleteTrackedFile(targetID, relativePath string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var tf TrackedFile
		if err := getJSON(txn, keyTrackedFile(targetID, relativePath), &tf); err != nil {
			return err
		}
		if err := txn.Delete(keyTrackedFile(targetID, relativePath)); err != nil {
			return err
		}
		if err := txn.Delete(keyTrackedFileByID(tf.ID)); err != nil {
			return err
		}
		return deletePendingConflict(txn, tf.ID)
	})
}

// ListTrackedFiles returns every TrackedFile belonging to targetID.
func (s *Store) ListTrackedFiles(targetID string) ([]TrackedFile, error) {
	var out []TrackedFile
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keyTrackedFilePrefixForTarget(targetID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var tf TrackedFile
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &tf) }); err != nil {
				return err
			}
			out = append(out, tf)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out, err
}

// --- conflicts ---

// PutConflictAndUpdateTrackedFile atomically inserts/updates conflict and
// sets the linked TrackedFile's sync_status, as one transaction — the
// pairing the spec requires so a reconciliation crash never leaves a
// conflict without a matching tracked_file status or vice versa.
func (s *Store) PutConflictAndUpdateTrackedFile(c Conflict, tf TrackedFile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, keyConflict(c.ID), c); err != nil {
			return err
		}
		if c.Status == ConflictStatusPending {
			if err := txn.Set(keyPendingConflictForFile(c.TrackedFileID), []byte(c.ID)); err != nil {
				return err
			}
		} else if err := deletePendingConflict(txn, c.TrackedFileID); err != nil {
			return err
		}
		return putTrackedFile(txn, tf)
	})
}

// GetConflict looks up a Conflict by id, regardless of its status.
func (s *Store) GetConflict(conflictID string) (Conflict, error) {
	var c Conflict
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyConflict(conflictID), &c)
	})
	return c, err
}

// PendingConflictForFile returns the at-most-one pending Conflict linked
// to trackedFileID, or ErrNotFound if there is none.
func (s *Store) PendingConflictForFile(trackedFileID string) (Conflict, error) {
	var c Conflict
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyPendingConflictForFile(trackedFileID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var id string
		if err := item.Value(func(val []byte) error { id = string(val); return nil }); err != nil {
			return err
		}
		return getJSON(txn, keyConflict(id), &c)
	})
	return c, err
}

// ResolveConflict sets a pending conflict's terminal status and clears the
// pending index for its tracked file, as the spec's "resolving a conflict
// ... clears any notifier state keyed by tracked-file id" requires.
func (s *Store) ResolveConflict(conflictID string, status ConflictStatus) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var c Conflict
		if err := getJSON(txn, keyConflict(conflictID), &c); err != nil {
			return err
		}
		now := time.Now()
		c.Status = status
		c.ResolvedAt = &now
		if err := setJSON(txn, keyConflict(conflictID), c); err != nil {
			return err
		}
		return deletePendingConflict(txn, c.TrackedFileID)
	})
}

func deletePendingConflict(txn *badger.Txn, trackedFileID string) error {
	key := keyPendingConflictForFile(trackedFileID)
	if _, err := txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return txn.Delete(key)
}

// --- pattern registry ---

// UpsertGlobalPattern inserts or updates a pattern in the global registry.
func (s *Store) UpsertGlobalPattern(p GlobalPattern, kind PatternKind) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyGlobalPattern(kind, p.Pattern), p)
	})
}

// ListGlobalPatterns returns every global pattern of the given kind.
func (s *Store) ListGlobalPatterns(kind PatternKind) ([]GlobalPattern, error) {
	var out []GlobalPattern
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keyGlobalPatternPrefix(kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p GlobalPattern
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, err
}

// SeedDefaultPatterns inserts the default include/ignore patterns if the
// global registry is empty for that kind — "defaults are re-seeded on
// engine init if missing".
func (s *Store) SeedDefaultPatterns(kind PatternKind, defaults []GlobalPattern) error {
	existing, err := s.ListGlobalPatterns(kind)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, p := range defaults {
			if err := setJSON(txn, keyGlobalPattern(kind, p.Pattern), p); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetOverride upserts a per-target enabled-flag override for a global pattern.
func (s *Store) SetOverride(o PatternOverride) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyOverride(o.TargetID, o.Kind, o.Pattern), o)
	})
}

// ListOverrides returns all per-target overrides of kind for targetID.
func (s *Store) ListOverrides(targetID string, kind PatternKind) ([]PatternOverride, error) {
	var out []PatternOverride
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keyOverridePrefix(targetID, kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var o PatternOverride
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &o) }); err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// SetLocal upserts a target-only pattern with no global counterpart.
func (s *Store) SetLocal(l LocalPattern) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keyLocal(l.TargetID, l.Kind, l.Pattern), l)
	})
}

// ListLocals returns all target-only patterns of kind for targetID.
func (s *Store) ListLocals(targetID string, kind PatternKind) ([]LocalPattern, error) {
	var out []LocalPattern
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keyLocalPrefix(targetID, kind)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var l LocalPattern
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &l) }); err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

// --- settings ---

// SetSetting stores an arbitrary JSON-marshalable setting value by name.
func (s *Store) SetSetting(name string, value interface{}) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, keySetting(name), value)
	})
}

// GetSetting reads a setting into dest, returning ErrNotFound if absent.
func (s *Store) GetSetting(name string, dest interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keySetting(name), dest)
	})
}

// ListSettings returns every stored setting's name mapped to its raw JSON
// value, for callers (pkg/settingssync) that need to export the whole
// settings row rather than read one name at a time.
func (s *Store) ListSettings() (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := keySettingPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			var raw json.RawMessage
			if err := item.Value(func(val []byte) error {
				raw = append(json.RawMessage(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			out[name] = raw
		}
		return nil
	})
	return out, err
}

// SizeThresholdBytes returns the configured size-block threshold, falling
// back to DefaultSizeThresholdBytes if the setting is absent, zero,
// negative, or fails to parse as a positive integer.
func (s *Store) SizeThresholdBytes() int64 {
	var v int64
	if err := s.GetSetting("size_threshold_bytes", &v); err != nil {
		return DefaultSizeThresholdBytes
	}
	if v <= 0 {
		return DefaultSizeThresholdBytes
	}
	return v
}
