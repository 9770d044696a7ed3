package store

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/fulmenhq/agentsync/pkg/pattern"
)

// GetTrackedFileByID looks up a TrackedFile by its id, via the secondary
// (target_id, relative_path) index.
func (s *Store) GetTrackedFileByID(id string) (TrackedFile, error) {
	var tf TrackedFile
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyTrackedFileByID(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var composite string
		if err := item.Value(func(val []byte) error { composite = string(val); return nil }); err != nil {
			return err
		}
		parts := strings.SplitN(composite, "\x00", 2)
		if len(parts) != 2 {
			return ErrNotFound
		}
		return getJSON(txn, keyTrackedFile(parts[0], parts[1]), &tf)
	})
	return tf, err
}

// EffectivePatterns composes the global registry with targetID's
// per-target overrides and locals into the ordered, resolved pattern list
// the scanner and ignore-block manager consume: locals first, then
// globals with any per-target enabled override applied.
func (s *Store) EffectivePatterns(targetID string, kind PatternKind) ([]pattern.Pattern, error) {
	globals, err := s.ListGlobalPatterns(kind)
	if err != nil {
		return nil, err
	}
	overrides, err := s.ListOverrides(targetID, kind)
	if err != nil {
		return nil, err
	}
	locals, err := s.ListLocals(targetID, kind)
	if err != nil {
		return nil, err
	}

	pg := make([]pattern.Global, len(globals))
	for i, g := range globals {
		pg[i] = pattern.Global{Pattern: g.Pattern, Enabled: g.Enabled, Source: pattern.Source(g.Source)}
	}
	po := make([]pattern.Override, len(overrides))
	for i, o := range overrides {
		po[i] = pattern.Override{Pattern: o.Pattern, Enabled: o.Enabled}
	}
	pl := make([]pattern.Local, len(locals))
	for i, l := range locals {
		pl[i] = pattern.Local{Pattern: l.Pattern, Enabled: l.Enabled}
	}

	return pattern.Resolve(pg, po, pl), nil
}

// FromPatternGlobals adapts pkg/pattern's default-seed globals (plain,
// storage-agnostic structs) into the persisted GlobalPattern form, for use
// with SeedDefaultPatterns.
func FromPatternGlobals(globals []pattern.Global) []GlobalPattern {
	out := make([]GlobalPattern, len(globals))
	for i, g := range globals {
		out[i] = GlobalPattern{Pattern: g.Pattern, Enabled: g.Enabled, Source: PatternSource(g.Source)}
	}
	return out
}
