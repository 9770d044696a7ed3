// Package engine is the sync engine: per-file reconciliation between a
// target tree and its mirror inside the store, conflict detection and
// lifecycle, size gating, pull-mode coordination, and event
// broadcasting. It is the only writer of TrackedFile and Conflict rows.
//
// There is no teacher analog for bidirectional sync with conflicts —
// the teacher's own pkg/ssot is one-way template propagation with no
// conflict model. This package is original code grounded on the
// teacher's concurrency idioms (a bounded worker pool per batch of
// independent work, golang.org/x/sync/errgroup already present in the
// teacher's dependency graph) applied to the decision procedure this
// module's specification prescribes.
package engine

import (
	"context"
	"sync"

	gitctx "github.com/fulmenhq/agentsync/internal/storegit"
	"github.com/fulmenhq/agentsync/pkg/logger"
	"github.com/fulmenhq/agentsync/pkg/store"
	"github.com/fulmenhq/agentsync/pkg/watcher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var log = logger.Named("engine")

// EventType names one of the shapes the engine broadcasts.
type EventType string

const (
	EventSyncStatus       EventType = "sync_status"
	EventConflictCreated  EventType = "conflict_created"
	EventConflictUpdated  EventType = "conflict_updated"
	EventConflictResolved EventType = "conflict_resolved"
	EventFilesChanged     EventType = "files_changed"
	EventSyncComplete     EventType = "sync_complete"
	EventSyncBlocked      EventType = "sync_blocked"
	EventWatcherError     EventType = "watcher_error"
)

// Event is one broadcast notification. Only the fields relevant to Type
// are populated.
type Event struct {
	Type       EventType
	TargetID   string
	FileID     string
	Status     store.SyncStatus
	Conflict   *store.Conflict
	ConflictID string
	Summary    Summary
	Reason     string
	TotalSize  int64
	Err        error
}

// Summary is the per-target reconciliation outcome, also the spec's
// "{synced, conflicts, errors}" sync_complete payload.
type Summary struct {
	Synced    int
	Conflicts int
	Errors    int
}

// Engine coordinates reconciliation across every registered target. It
// holds no target-specific state beyond the pull-mode latch; target and
// tracked-file state lives entirely in the metadata store.
type Engine struct {
	meta       *store.Store
	git        *gitctx.Store
	suppressor *watcher.Suppressor

	storeRoot string

	events chan Event

	mu       sync.Mutex
	pullMode bool

	// concurrency bound across targets; reconciliation within one target
	// is always sequential, so this only bounds how many targets run at
	// once.
	maxConcurrentTargets int
}

// DefaultMaxConcurrentTargets bounds cross-target concurrency when no
// override is configured.
const DefaultMaxConcurrentTargets = 8

// New constructs an Engine. storeRoot is the store repository's working
// tree root; git must be opened at the same root.
func New(meta *store.Store, git *gitctx.Store, suppressor *watcher.Suppressor, storeRoot string) *Engine {
	return &Engine{
		meta:                 meta,
		git:                  git,
		suppressor:           suppressor,
		storeRoot:            storeRoot,
		events:               make(chan Event, 256),
		maxConcurrentTargets: DefaultMaxConcurrentTargets,
	}
}

// Events returns the engine's broadcast channel. Consumers (the façade,
// tests) should drain it continuously; a full buffer causes Broadcast to
// drop the oldest queued event rather than block a reconciliation.
func (e *Engine) Events() <-chan Event { return e.events }

// Broadcast emits ev without blocking reconciliation: if the event
// channel is full, the oldest pending event is dropped to make room.
func (e *Engine) Broadcast(ev Event) {
	select {
	case e.events <- ev:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ev:
		default:
		}
	}
}

// EnterPullMode suspends watcher-triggered reconciliation across all
// targets until LeavePullMode is called.
func (e *Engine) EnterPullMode() {
	e.mu.Lock()
	e.pullMode = true
	e.mu.Unlock()
	log.Info("entered pull mode")
}

// LeavePullMode releases the pull-mode latch.
func (e *Engine) LeavePullMode() {
	e.mu.Lock()
	e.pullMode = false
	e.mu.Unlock()
	log.Info("left pull mode")
}

// InPullMode reports whether the pull-mode latch is currently held.
func (e *Engine) InPullMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pullMode
}

// ReconcileAll runs ReconcileTarget concurrently across targets, bounded
// by maxConcurrentTargets, and returns once every target has completed
// (or the context is cancelled). A per-target error does not stop the
// others; it is logged with the target's id, and the returned error is
// the first one encountered, for the caller's logs.
func (e *Engine) ReconcileAll(ctx context.Context, targets []store.Target) error {
	if e.InPullMode() {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrentTargets)

	for _, target := range targets {
		target := target
		if target.Status != store.TargetStatusActive {
			continue
		}
		g.Go(func() error {
			summary, err := e.ReconcileTarget(ctx, target)
			if err != nil {
				log.Error("reconcile target failed", zap.String("target_id", target.ID), zap.Error(err))
				return err
			}
			log.Debug("reconciled target",
				zap.String("target_id", target.ID),
				zap.Int("synced", summary.Synced),
				zap.Int("conflicts", summary.Conflicts),
				zap.Int("errors", summary.Errors))
			return nil
		})
	}
	return g.Wait()
}

// RecordSelfWrite marks path in the shared suppressor immediately before
// a caller outside the engine (the façade, resolving a conflict
// manually) writes to it, so the watcher does not re-trigger
// reconciliation on a write the system itself just made.
func (e *Engine) RecordSelfWrite(path string) {
	e.recordSelfWrite(path)
}

// recordSelfWrite marks path in the shared suppressor immediately before
// the engine writes to it, per the self-change-suppression contract.
func (e *Engine) recordSelfWrite(path string) {
	e.suppressor.Record(path)
}
