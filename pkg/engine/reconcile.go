package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	gitctx "github.com/fulmenhq/agentsync/internal/storegit"
	"github.com/fulmenhq/agentsync/pkg/checksum"
	"github.com/fulmenhq/agentsync/pkg/ignore"
	"github.com/fulmenhq/agentsync/pkg/pattern"
	"github.com/fulmenhq/agentsync/pkg/safeio"
	"github.com/fulmenhq/agentsync/pkg/scanner"
	"github.com/fulmenhq/agentsync/pkg/store"
)

// ReconcileTarget runs the full per-file decision procedure (spec §4.8)
// for every path the scanner finds on either side of target, plus every
// path already tracked for it, and reports the aggregate outcome.
func (e *Engine) ReconcileTarget(ctx context.Context, target store.Target) (Summary, error) {
	if e.InPullMode() {
		return Summary{}, nil
	}

	storeSubtree := filepath.Join(e.storeRoot, target.StorePath)

	limit := e.meta.SizeThresholdBytes()
	size, err := dirSize(storeSubtree)
	if err != nil && !os.IsNotExist(err) {
		return Summary{}, fmt.Errorf("measure store subtree: %w", err)
	}
	if size > limit {
		reason := fmt.Sprintf("store subtree for %s is %d bytes, exceeding the configured limit of %d bytes", target.DisplayName, size, limit)
		log.Warn("sync blocked by size threshold", zap.String("target_id", target.ID), zap.Int64("size", size), zap.Int64("limit", limit))
		e.Broadcast(Event{Type: EventSyncBlocked, TargetID: target.ID, Reason: reason, TotalSize: size})
		return Summary{}, nil
	}

	includes, err := e.enabledPatterns(target.ID, store.PatternKindInclude)
	if err != nil {
		return Summary{}, err
	}
	ignores, err := e.enabledPatterns(target.ID, store.PatternKindIgnore)
	if err != nil {
		return Summary{}, err
	}
	expandedIgnores := pattern.ExpandIgnore(ignores)

	if target.Kind == store.TargetKindRepo {
		if err := e.syncManagedGitignore(target, includes); err != nil {
			return Summary{}, err
		}
	}

	relPaths, err := e.candidatePaths(target, storeSubtree, includes, expandedIgnores)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	anyChange := false
	for _, relPath := range relPaths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, changed, err := e.reconcileFile(target, storeSubtree, relPath)
		if changed {
			anyChange = true
		}
		switch {
		case err != nil:
			summary.Errors++
		case outcome == outcomeConflict:
			summary.Conflicts++
		case outcome == outcomeSynced:
			summary.Synced++
		}
	}

	if anyChange {
		e.git.QueueCommit(fmt.Sprintf("sync: %s", target.DisplayName))
		e.Broadcast(Event{Type: EventFilesChanged, TargetID: target.ID})
	}
	e.Broadcast(Event{Type: EventSyncComplete, TargetID: target.ID, Summary: summary})
	return summary, nil
}

func (e *Engine) enabledPatterns(targetID string, kind store.PatternKind) ([]string, error) {
	resolved, err := e.meta.EffectivePatterns(targetID, kind)
	if err != nil {
		return nil, err
	}
	return pattern.Enabled(resolved), nil
}

// candidatePaths is the union of paths the scanner finds on the target
// side, paths the scanner finds on the store side, and paths already
// tracked for this target (so a path that fell out of the include set,
// or whose last remaining copy was deleted, is still visited once more).
func (e *Engine) candidatePaths(target store.Target, storeSubtree string, includes, expandedIgnores []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	addEntries := func(entries []scanner.Entry) {
		for _, en := range entries {
			if !seen[en.RelativePath] {
				seen[en.RelativePath] = true
				paths = append(paths, en.RelativePath)
			}
		}
	}

	targetEntries, err := scanner.Scan(target.LocalPath, includes, expandedIgnores)
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	addEntries(targetEntries)

	storeEntries, err := scanner.Scan(storeSubtree, includes, expandedIgnores)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	addEntries(storeEntries)

	tracked, err := e.meta.ListTrackedFiles(target.ID)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	for _, tf := range tracked {
		if !seen[tf.RelativePath] {
			seen[tf.RelativePath] = true
			paths = append(paths, tf.RelativePath)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// syncManagedGitignore keeps a repo-kind target's managed .gitignore
// segment (spec §4.6) in step with its currently enabled include
// patterns and untracks any already-tracked file from the target's own
// git index, so a file the store manages is never committed twice: once
// by the store's repo, once by the target's own.
func (e *Engine) syncManagedGitignore(target store.Target, includes []string) error {
	if _, err := ignore.Sync(ignore.GitignorePath(target.LocalPath), includes); err != nil {
		return fmt.Errorf("sync managed gitignore for %s: %w", target.ID, err)
	}

	tracked, err := e.meta.ListTrackedFiles(target.ID)
	if err != nil {
		return fmt.Errorf("list tracked files for %s: %w", target.ID, err)
	}
	relPaths := make([]string, len(tracked))
	for i, tf := range tracked {
		relPaths[i] = tf.RelativePath
	}
	if _, err := ignore.UntrackFromIndex(target.LocalPath, relPaths); err != nil {
		return fmt.Errorf("untrack managed files for %s: %w", target.ID, err)
	}
	return nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeSynced
	outcomeConflict
	outcomeDeleted
)

// reconcileFile applies the §4.8 decision procedure to one
// (target, relative_path) pair. changed reports whether any bytes were
// written to either side (so the caller knows whether a commit is due).
func (e *Engine) reconcileFile(target store.Target, storeSubtree, relPath string) (outcome, bool, error) {
	storePath := filepath.Join(storeSubtree, filepath.FromSlash(relPath))
	targetPath := filepath.Join(target.LocalPath, filepath.FromSlash(relPath))

	storeSide, storeExists, err := readSide(storePath)
	if err != nil {
		return outcomeNone, false, err
	}
	targetSide, targetExists, err := readSide(targetPath)
	if err != nil {
		return outcomeNone, false, err
	}

	existing, err := e.meta.GetTrackedFile(target.ID, relPath)
	hadRecord := err == nil
	hadHistory := hadRecord && existing.LastSyncedAt != nil

	switch {
	case !storeExists && !targetExists:
		if hadHistory {
			if err := e.meta.DeleteTrackedFile(target.ID, relPath); err != nil {
				return outcomeNone, false, err
			}
			return outcomeDeleted, false, nil
		}
		return outcomeNone, false, nil

	case storeExists && targetExists:
		return e.reconcileBothExist(target, relPath, storePath, targetPath, storeSide, targetSide, existing, hadRecord)

	case storeExists && !targetExists:
		if hadHistory {
			return e.openMissingConflict(target, relPath, existing, hadRecord, &storeSide, nil)
		}
		return e.copySide(target, relPath, storePath, targetPath, storeSide, store.SyncStatusSynced, existing, hadRecord)

	default: // targetExists && !storeExists
		if hadHistory {
			return e.openMissingConflict(target, relPath, existing, hadRecord, nil, &targetSide)
		}
		return e.copySide(target, relPath, targetPath, storePath, targetSide, store.SyncStatusSynced, existing, hadRecord)
	}
}

type sideContent struct {
	bytes    []byte
	kind     store.FileKind
	checksum string
}

func readSide(path string) (sideContent, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sideContent{}, false, nil
		}
		return sideContent{}, false, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		dest, err := os.Readlink(path)
		if err != nil {
			return sideContent{}, false, err
		}
		return sideContent{bytes: []byte(dest), kind: store.FileKindSymlink, checksum: checksum.Symlink(dest)}, true, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path is derived from a registered target's tracked relative path
	if err != nil {
		return sideContent{}, false, err
	}
	return sideContent{bytes: data, kind: store.FileKindFile, checksum: checksum.Content(data)}, true, nil
}

func (e *Engine) reconcileBothExist(target store.Target, relPath, storePath, targetPath string, storeSide, targetSide sideContent, existing store.TrackedFile, hadRecord bool) (outcome, bool, error) {
	if bytes.Equal(storeSide.bytes, targetSide.bytes) {
		tf := trackedFileFor(target, relPath, existing, hadRecord)
		tf.Kind = storeSide.kind
		tf.StoreChecksum = storeSide.checksum
		tf.TargetChecksum = targetSide.checksum
		tf.SyncStatus = store.SyncStatusSynced
		now := time.Now()
		tf.LastSyncedAt = &now
		if err := e.putSyncedAndAutoResolve(tf); err != nil {
			return outcomeNone, false, err
		}
		return outcomeSynced, false, nil
	}

	if storeSide.kind == store.FileKindSymlink || targetSide.kind == store.FileKindSymlink {
		// Symlink destinations cannot be three-way merged; a mismatch is
		// always a conflict once both sides independently point somewhere.
		return e.openDivergenceConflict(target, relPath, existing, hadRecord, nil, storeSide, targetSide, nil)
	}

	fullRelPath := filepath.ToSlash(filepath.Join(target.StorePath, relPath))
	base, err := e.git.CommittedContent(fullRelPath)
	if err != nil {
		return outcomeNone, false, err
	}

	switch {
	case base == nil:
		// First sync, or the file was never committed: the store's
		// content wins, the documented onboarding fallback.
		return e.copySide(target, relPath, storePath, targetPath, storeSide, store.SyncStatusSynced, existing, hadRecord)

	case bytes.Equal(base, targetSide.bytes):
		return e.copySide(target, relPath, storePath, targetPath, storeSide, store.SyncStatusSynced, existing, hadRecord)

	case bytes.Equal(base, storeSide.bytes):
		return e.copySide(target, relPath, targetPath, storePath, targetSide, store.SyncStatusSynced, existing, hadRecord)

	default:
		result, err := gitctx.ThreeWayMerge(base, storeSide.bytes, targetSide.bytes)
		if err != nil {
			return outcomeNone, false, err
		}
		if !result.HasConflicts {
			e.recordSelfWrite(storePath)
			e.recordSelfWrite(targetPath)
			if err := safeio.WriteFilePreservePerms(storePath, result.Content); err != nil {
				return outcomeNone, false, err
			}
			if err := safeio.WriteFilePreservePerms(targetPath, result.Content); err != nil {
				return outcomeNone, false, err
			}
			sum := checksum.Content(result.Content)
			tf := trackedFileFor(target, relPath, existing, hadRecord)
			tf.Kind = store.FileKindFile
			tf.StoreChecksum, tf.TargetChecksum = sum, sum
			tf.SyncStatus = store.SyncStatusSynced
			now := time.Now()
			tf.LastSyncedAt = &now
			if err := e.putSyncedAndAutoResolve(tf); err != nil {
				return outcomeNone, false, err
			}
			return outcomeSynced, true, nil
		}
		return e.openDivergenceConflict(target, relPath, existing, hadRecord, base, storeSide, targetSide, result.Content)
	}
}

func (e *Engine) openDivergenceConflict(target store.Target, relPath string, existing store.TrackedFile, hadRecord bool, base []byte, storeSide, targetSide sideContent, merged []byte) (outcome, bool, error) {
	tf := trackedFileFor(target, relPath, existing, hadRecord)
	tf.Kind = storeSide.kind
	tf.StoreChecksum = storeSide.checksum
	tf.TargetChecksum = targetSide.checksum
	tf.SyncStatus = store.SyncStatusConflict

	c, wasExisting, err := e.upsertPendingConflict(tf.ID, base, storeSide.bytes, targetSide.bytes, merged, storeSide.checksum, targetSide.checksum)
	if err != nil {
		return outcomeNone, false, err
	}
	if err := e.meta.PutConflictAndUpdateTrackedFile(c, tf); err != nil {
		return outcomeNone, false, err
	}
	e.broadcastConflict(target, c, wasExisting)
	return outcomeConflict, false, nil
}

func (e *Engine) openMissingConflict(target store.Target, relPath string, existing store.TrackedFile, hadRecord bool, storeSide, targetSide *sideContent) (outcome, bool, error) {
	tf := trackedFileFor(target, relPath, existing, hadRecord)
	tf.Kind = store.FileKindFile
	var storeBytes, targetBytes []byte
	var storeChecksum, targetChecksum string
	if storeSide != nil {
		storeBytes = storeSide.bytes
		storeChecksum = storeSide.checksum
		tf.Kind = storeSide.kind
		tf.SyncStatus = store.SyncStatusMissingInTarget
	}
	if targetSide != nil {
		targetBytes = targetSide.bytes
		targetChecksum = targetSide.checksum
		tf.Kind = targetSide.kind
		tf.SyncStatus = store.SyncStatusMissingInStore
	}
	tf.StoreChecksum = storeChecksum
	tf.TargetChecksum = targetChecksum

	c, wasExisting, err := e.upsertPendingConflict(tf.ID, nil, storeBytes, targetBytes, nil, storeChecksum, targetChecksum)
	if err != nil {
		return outcomeNone, false, err
	}
	if err := e.meta.PutConflictAndUpdateTrackedFile(c, tf); err != nil {
		return outcomeNone, false, err
	}
	e.broadcastConflict(target, c, wasExisting)
	return outcomeConflict, false, nil
}

// upsertPendingConflict builds the Conflict to persist for trackedFileID,
// reusing a pending conflict's id if one is already open for it. wasExisting
// reports which case applied, so callers broadcast conflict_created only
// the first time a conflict opens for a file and conflict_updated on every
// re-detection after that — independent of whether the tracked file itself
// predates this conflict.
func (e *Engine) upsertPendingConflict(trackedFileID string, base, storeContent, targetContent, merged []byte, storeChecksum, targetChecksum string) (c store.Conflict, wasExisting bool, err error) {
	existing, err := e.meta.PendingConflictForFile(trackedFileID)
	id := uuid.NewString()
	wasExisting = err == nil
	if wasExisting {
		id = existing.ID
	}
	return store.Conflict{
		ID:             id,
		TrackedFileID:  trackedFileID,
		BaseContent:    base,
		StoreContent:   storeContent,
		TargetContent:  targetContent,
		MergedContent:  merged,
		StoreChecksum:  storeChecksum,
		TargetChecksum: targetChecksum,
		Status:         store.ConflictStatusPending,
	}, wasExisting, nil
}

func (e *Engine) broadcastConflict(target store.Target, c store.Conflict, wasUpdate bool) {
	conflictCopy := c
	if wasUpdate {
		log.Info("conflict updated", zap.String("target_id", target.ID), zap.String("conflict_id", c.ID))
		e.Broadcast(Event{Type: EventConflictUpdated, TargetID: target.ID, FileID: c.TrackedFileID, ConflictID: c.ID, Conflict: &conflictCopy})
		return
	}
	log.Info("conflict opened", zap.String("target_id", target.ID), zap.String("conflict_id", c.ID))
	e.Broadcast(Event{Type: EventConflictCreated, TargetID: target.ID, FileID: c.TrackedFileID, ConflictID: c.ID, Conflict: &conflictCopy})
}

// copySide copies fromPath's already-read content to toPath (creating
// parent directories as needed), records the self-write suppression, and
// marks the tracked file synced with matching checksums on both sides.
func (e *Engine) copySide(target store.Target, relPath, fromPath, toPath string, content sideContent, status store.SyncStatus, existing store.TrackedFile, hadRecord bool) (outcome, bool, error) {
	if err := os.MkdirAll(filepath.Dir(toPath), 0o755); err != nil {
		return outcomeNone, false, fmt.Errorf("create parent dirs: %w", err)
	}
	e.recordSelfWrite(toPath)

	if content.kind == store.FileKindSymlink {
		dest := string(content.bytes)
		if err := checksum.ValidateSymlinkTarget(dest); err != nil {
			return outcomeNone, false, fmt.Errorf("symlink target for %s: %w", relPath, err)
		}
		_ = os.Remove(toPath)
		if err := os.Symlink(dest, toPath); err != nil {
			return outcomeNone, false, fmt.Errorf("recreate symlink: %w", err)
		}
	} else if err := safeio.WriteFilePreservePerms(toPath, content.bytes); err != nil {
		return outcomeNone, false, fmt.Errorf("write %s: %w", toPath, err)
	}

	tf := trackedFileFor(target, relPath, existing, hadRecord)
	tf.Kind = content.kind
	tf.StoreChecksum = content.checksum
	tf.TargetChecksum = content.checksum
	tf.SyncStatus = status
	now := time.Now()
	tf.LastSyncedAt = &now

	if err := e.putSyncedAndAutoResolve(tf); err != nil {
		return outcomeNone, false, err
	}
	return outcomeSynced, true, nil
}

// putSyncedAndAutoResolve persists tf and, if a pending conflict exists
// for it, auto-resolves that conflict now that the two sides agree.
func (e *Engine) putSyncedAndAutoResolve(tf store.TrackedFile) error {
	if pending, err := e.meta.PendingConflictForFile(tf.ID); err == nil {
		if err := e.meta.ResolveConflict(pending.ID, store.ConflictStatusResolvedAuto); err != nil {
			return err
		}
		e.Broadcast(Event{Type: EventConflictResolved, FileID: tf.ID, ConflictID: pending.ID})
	}
	if err := e.meta.PutTrackedFile(tf); err != nil {
		return err
	}
	e.Broadcast(Event{Type: EventSyncStatus, TargetID: tf.TargetID, FileID: tf.ID, Status: tf.SyncStatus})
	return nil
}

func trackedFileFor(target store.Target, relPath string, existing store.TrackedFile, hadRecord bool) store.TrackedFile {
	if hadRecord {
		return existing
	}
	return store.TrackedFile{ID: uuid.NewString(), TargetID: target.ID, RelativePath: relPath}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
