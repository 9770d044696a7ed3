// Package api is the consumer-facing façade: the operations an external
// UI or CLI layer needs from the engine, independent of any transport.
// http.go adapts Facade onto plain net/http, grounded on the teacher's
// `internal/server/manager.go`, which never reaches for a web framework
// for its own internal HTTP surfaces.
package api

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gitctx "github.com/fulmenhq/agentsync/internal/storegit"
	"github.com/fulmenhq/agentsync/pkg/checksum"
	"github.com/fulmenhq/agentsync/pkg/engine"
	"github.com/fulmenhq/agentsync/pkg/logger"
	"github.com/fulmenhq/agentsync/pkg/safeio"
	"github.com/fulmenhq/agentsync/pkg/store"
	"go.uber.org/zap"
)

var log = logger.Named("api")

// Facade exposes every operation the spec's consumer API contract names:
// target lifecycle, conflict resolution, store-side file access,
// settings, pull-mode coordination, and the event stream.
type Facade struct {
	meta      *store.Store
	git       *gitctx.Store
	eng       *engine.Engine
	storeRoot string
}

// New constructs a Facade over an already-open store, git adapter, and
// engine. storeRoot is the same store working-tree root the engine was
// constructed with.
func New(meta *store.Store, git *gitctx.Store, eng *engine.Engine, storeRoot string) *Facade {
	return &Facade{meta: meta, git: git, eng: eng, storeRoot: storeRoot}
}

// TargetSummary is the list-view shape for one target.
type TargetSummary struct {
	store.Target
	TrackedFileCount int `json:"tracked_file_count"`
	PendingConflicts int `json:"pending_conflicts"`
}

// ListTargets returns every target with its tracked-file and pending-
// conflict counts.
func (f *Facade) ListTargets() ([]TargetSummary, error) {
	targets, err := f.meta.ListTargets()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]TargetSummary, 0, len(targets))
	for _, t := range targets {
		files, err := f.meta.ListTrackedFiles(t.ID)
		if err != nil {
			return nil, fmt.Errorf("list tracked files for %s: %w", t.ID, err)
		}
		pending := 0
		for _, tf := range files {
			if tf.SyncStatus == store.SyncStatusConflict {
				pending++
			}
		}
		out = append(out, TargetSummary{Target: t, TrackedFileCount: len(files), PendingConflicts: pending})
	}
	return out, nil
}

// TargetDetail is the single-target view: the target plus all its
// tracked files.
type TargetDetail struct {
	store.Target
	TrackedFiles []store.TrackedFile `json:"tracked_files"`
}

// GetTarget returns one target with its tracked files.
func (f *Facade) GetTarget(id string) (TargetDetail, error) {
	t, err := f.meta.GetTarget(id)
	if err != nil {
		return TargetDetail{}, fmt.Errorf("get target %s: %w", id, err)
	}
	files, err := f.meta.ListTrackedFiles(id)
	if err != nil {
		return TargetDetail{}, fmt.Errorf("list tracked files for %s: %w", id, err)
	}
	return TargetDetail{Target: t, TrackedFiles: files}, nil
}

// RegisterTarget inserts a new target. It neither reconciles the target
// nor emits an event; the callers in cmd/ (target add and the machine
// linker) run Rescan on the new target right after.
func (f *Facade) RegisterTarget(t store.Target) error {
	if err := f.meta.CreateTarget(t); err != nil {
		return fmt.Errorf("register target: %w", err)
	}
	log.Info("target registered", zap.String("target_id", t.ID), zap.String("store_path", t.StorePath))
	return nil
}

// UnregisterTarget removes a target and everything cascading from it
// (tracked files, pending conflicts, overrides).
func (f *Facade) UnregisterTarget(id string) error {
	if err := f.meta.DeleteTarget(id); err != nil {
		return fmt.Errorf("unregister target %s: %w", id, err)
	}
	log.Info("target unregistered", zap.String("target_id", id))
	return nil
}

func (f *Facade) setStatus(id string, status store.TargetStatus) error {
	t, err := f.meta.GetTarget(id)
	if err != nil {
		return fmt.Errorf("get target %s: %w", id, err)
	}
	t.Status = status
	if err := f.meta.UpdateTarget(t); err != nil {
		return fmt.Errorf("update target %s: %w", id, err)
	}
	return nil
}

// PauseTarget stops a target from being reconciled until resumed.
func (f *Facade) PauseTarget(id string) error { return f.setStatus(id, store.TargetStatusPaused) }

// ResumeTarget re-activates a paused target.
func (f *Facade) ResumeTarget(id string) error { return f.setStatus(id, store.TargetStatusActive) }

// Rescan runs one reconciliation pass for a single target regardless of
// its last-known state, returning the resulting Summary.
func (f *Facade) Rescan(ctx context.Context, id string) (engine.Summary, error) {
	t, err := f.meta.GetTarget(id)
	if err != nil {
		return engine.Summary{}, fmt.Errorf("get target %s: %w", id, err)
	}
	return f.eng.ReconcileTarget(ctx, t)
}

// ForceSync is an alias for Rescan: the spec's "trigger a rescan or a
// forced sync" names two entry points into the same per-target
// reconciliation pass, since a forced sync is just a rescan run outside
// the engine's normal watcher-triggered cadence.
func (f *Facade) ForceSync(ctx context.Context, id string) (engine.Summary, error) {
	return f.Rescan(ctx, id)
}

// ConflictSummary is the list-view shape for one conflict.
type ConflictSummary struct {
	store.Conflict
	TargetID     string `json:"target_id"`
	RelativePath string `json:"relative_path"`
}

// ListConflicts returns the pending conflict of every tracked file whose
// sync_status is conflict, optionally scoped to a single target. Pending
// conflicts on files in missing_in_store or missing_in_target status are
// not listed.
func (f *Facade) ListConflicts(targetID string) ([]ConflictSummary, error) {
	var targets []store.Target
	if targetID != "" {
		t, err := f.meta.GetTarget(targetID)
		if err != nil {
			return nil, fmt.Errorf("get target %s: %w", targetID, err)
		}
		targets = []store.Target{t}
	} else {
		var err error
		targets, err = f.meta.ListTargets()
		if err != nil {
			return nil, fmt.Errorf("list targets: %w", err)
		}
	}

	var out []ConflictSummary
	for _, t := range targets {
		files, err := f.meta.ListTrackedFiles(t.ID)
		if err != nil {
			return nil, fmt.Errorf("list tracked files for %s: %w", t.ID, err)
		}
		for _, tf := range files {
			if tf.SyncStatus != store.SyncStatusConflict {
				continue
			}
			c, err := f.meta.PendingConflictForFile(tf.ID)
			if err != nil {
				continue
			}
			out = append(out, ConflictSummary{Conflict: c, TargetID: t.ID, RelativePath: tf.RelativePath})
		}
	}
	return out, nil
}

// ConflictResolution is one of the four resolution strategies the spec
// names, plus the bulk variant applies the same strategy to every
// pending conflict within one target.
type ConflictResolution string

const (
	ResolutionKeepStore     ConflictResolution = "keep-store"
	ResolutionKeepTarget    ConflictResolution = "keep-target"
	ResolutionManualContent ConflictResolution = "manual-content"
	ResolutionDelete        ConflictResolution = "delete"
)

// ResolveConflict applies resolution to one conflict: it writes the
// winning content to whichever side(s) need it, records the terminal
// status, and marks the tracked file synced (or removes it, for
// ResolutionDelete). manualContent is only consulted when resolution is
// ResolutionManualContent.
func (f *Facade) ResolveConflict(conflictID string, resolution ConflictResolution, manualContent []byte) error {
	c, err := f.meta.GetConflict(conflictID)
	if err != nil {
		return fmt.Errorf("get conflict %s: %w", conflictID, err)
	}
	tf, err := f.meta.GetTrackedFileByID(c.TrackedFileID)
	if err != nil {
		return fmt.Errorf("get tracked file %s: %w", c.TrackedFileID, err)
	}
	target, err := f.meta.GetTarget(tf.TargetID)
	if err != nil {
		return fmt.Errorf("get target %s: %w", tf.TargetID, err)
	}

	status, err := f.applyResolution(target, tf, resolution, manualContent)
	if err != nil {
		return err
	}
	if err := f.meta.ResolveConflict(conflictID, status); err != nil {
		return fmt.Errorf("resolve conflict %s: %w", conflictID, err)
	}
	f.eng.Broadcast(engine.Event{Type: engine.EventConflictResolved, ConflictID: conflictID, TargetID: target.ID, FileID: tf.ID})
	return nil
}

// ResolveConflictsBulk applies resolution to every pending conflict in
// targetID. ResolutionManualContent is not valid here since a bulk
// resolution has no per-conflict content to apply.
func (f *Facade) ResolveConflictsBulk(targetID string, resolution ConflictResolution) error {
	if resolution == ResolutionManualContent {
		return fmt.Errorf("manual-content resolution is not valid for a bulk resolve")
	}
	conflicts, err := f.ListConflicts(targetID)
	if err != nil {
		return err
	}
	for _, c := range conflicts {
		if err := f.ResolveConflict(c.ID, resolution, nil); err != nil {
			return err
		}
	}
	return nil
}

// applyResolution writes the resolved content to disk and updates (or
// removes) the tracked file record, returning the terminal Conflict
// status to persist.
func (f *Facade) applyResolution(target store.Target, tf store.TrackedFile, resolution ConflictResolution, manualContent []byte) (store.ConflictStatus, error) {
	storePath := filepath.Join(f.storeRoot, target.StorePath, tf.RelativePath)
	targetPath := filepath.Join(target.LocalPath, tf.RelativePath)

	switch resolution {
	case ResolutionKeepStore:
		content, err := safeio.ReadFileContained(filepath.Join(f.storeRoot, target.StorePath), tf.RelativePath)
		if err != nil {
			return "", fmt.Errorf("read store side: %w", err)
		}
		if err := f.writeBothSynced(target, &tf, targetPath, content); err != nil {
			return "", err
		}
		return store.ConflictStatusResolvedStore, nil

	case ResolutionKeepTarget:
		content, err := safeio.ReadFileContained(target.LocalPath, tf.RelativePath)
		if err != nil {
			return "", fmt.Errorf("read target side: %w", err)
		}
		if err := f.writeBothSynced(target, &tf, storePath, content); err != nil {
			return "", err
		}
		return store.ConflictStatusResolvedTarget, nil

	case ResolutionManualContent:
		if len(manualContent) == 0 {
			return "", fmt.Errorf("manual-content resolution requires content for tracked file %s", tf.ID)
		}
		if err := f.writeBothSynced(target, &tf, storePath, manualContent); err != nil {
			return "", err
		}
		f.eng.RecordSelfWrite(targetPath)
		if err := safeio.WriteFilePreservePerms(targetPath, manualContent); err != nil {
			return "", fmt.Errorf("write target side: %w", err)
		}
		return store.ConflictStatusResolvedManual, nil

	case ResolutionDelete:
		f.eng.RecordSelfWrite(storePath)
		f.eng.RecordSelfWrite(targetPath)
		if err := removeBothSides(storePath, targetPath); err != nil {
			return "", err
		}
		if err := f.meta.DeleteTrackedFile(target.ID, tf.RelativePath); err != nil {
			return "", fmt.Errorf("delete tracked file: %w", err)
		}
		f.git.QueueCommit(fmt.Sprintf("resolve conflict: delete %s", tf.RelativePath))
		return store.ConflictStatusResolvedDelete, nil

	default:
		return "", fmt.Errorf("unknown conflict resolution %q", resolution)
	}
}

// writeBothSynced writes content to otherSidePath (whichever side does not
// already hold the winning content) and marks tf synced with matching
// checksums on both sides.
func (f *Facade) writeBothSynced(target store.Target, tf *store.TrackedFile, otherSidePath string, content []byte) error {
	f.eng.RecordSelfWrite(otherSidePath)
	if err := safeio.WriteFilePreservePerms(otherSidePath, content); err != nil {
		return fmt.Errorf("write %s: %w", otherSidePath, err)
	}

	sum := checksum.Content(content)
	now := time.Now()
	tf.StoreChecksum = sum
	tf.TargetChecksum = sum
	tf.StoreMtime = now
	tf.TargetMtime = now
	tf.SyncStatus = store.SyncStatusSynced
	tf.LastSyncedAt = &now
	if err := f.meta.PutTrackedFile(*tf); err != nil {
		return fmt.Errorf("update tracked file: %w", err)
	}
	f.git.QueueCommit(fmt.Sprintf("resolve conflict: %s", tf.RelativePath))
	return nil
}

func removeBothSides(paths ...string) error {
	for _, p := range paths {
		if err := safeio.RemoveIfExists(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// ReadStoreFile returns the committed content of a tracked file's
// store-side copy at HEAD.
func (f *Facade) ReadStoreFile(relativePath string) ([]byte, error) {
	return f.git.CommittedContent(relativePath)
}

// WriteStoreFile overwrites a target's store-side file content directly
// (the façade's "write store-side file contents" entry point, for a UI
// edit that bypasses the normal target-side write path), queuing a
// commit and marking the path self-written so the watcher does not
// double-trigger reconciliation.
func (f *Facade) WriteStoreFile(target store.Target, relativePath string, content []byte) error {
	storePath := filepath.Join(f.storeRoot, target.StorePath, relativePath)
	f.eng.RecordSelfWrite(storePath)
	if err := safeio.WriteFilePreservePerms(storePath, content); err != nil {
		return fmt.Errorf("write store file %s: %w", relativePath, err)
	}
	f.git.QueueCommit(fmt.Sprintf("edit %s", relativePath))
	return nil
}

// GetSetting reads one named setting into dest.
func (f *Facade) GetSetting(name string, dest interface{}) error {
	return f.meta.GetSetting(name, dest)
}

// SetSetting stores one named setting.
func (f *Facade) SetSetting(name string, value interface{}) error {
	return f.meta.SetSetting(name, value)
}

// SetOverride flips a global pattern's enabled flag for one target.
func (f *Facade) SetOverride(o store.PatternOverride) error {
	return f.meta.SetOverride(o)
}

// PullToken is the pre-pull HEAD hash, returned so the caller can diff
// against it once pull-mode is left.
type PullToken struct {
	PreHash string `json:"pre_hash"`
}

// EnterPullMode suspends watcher-triggered reconciliation and returns
// the current HEAD hash as a token for the caller to compare against
// after leaving pull mode.
func (f *Facade) EnterPullMode() (PullToken, error) {
	f.eng.EnterPullMode()
	hash, err := f.git.HeadHash()
	if err != nil {
		return PullToken{}, fmt.Errorf("read head hash: %w", err)
	}
	return PullToken{PreHash: hash}, nil
}

// LeavePullMode releases the pull-mode latch.
func (f *Facade) LeavePullMode() {
	f.eng.LeavePullMode()
}

// Pull fetches and merges the remote branch, still under the pull-mode
// latch the caller is expected to already hold via EnterPullMode.
func (f *Facade) Pull(ctx context.Context, remote string) (gitctx.PullResult, error) {
	return f.git.Pull(ctx, remote)
}

// Push publishes the store's current branch to remote.
func (f *Facade) Push(ctx context.Context, remote string) error {
	return f.git.Push(ctx, remote)
}

// Subscribe returns the engine's broadcast channel.
func (f *Facade) Subscribe() <-chan engine.Event {
	return f.eng.Events()
}
