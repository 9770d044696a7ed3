// Package store is the durable metadata store: sync targets, tracked
// files, conflicts, the pattern registry's per-target overrides, and
// settings. It is the sync engine's single source of truth for
// reconciliation state.
//
// There is no embedded relational engine anywhere in the example corpus
// this module was built from — the one SQL driver present (pgx) targets
// a standalone Postgres server, the wrong shape for a single-user
// desktop daemon with no server to administer. dgraph-io/badger/v4 was
// already an indirect dependency (pulled in transitively); it is
// promoted to a direct one here and used as an embedded key-value store
// with hand-maintained secondary indices standing in for the spec's
// "relational store" language — foreign-key cascade becomes explicit
// index cleanup in DeleteTarget.
package store

import "time"

// TargetKind distinguishes a repo target from a service target.
type TargetKind string

const (
	TargetKindRepo    TargetKind = "repo"
	TargetKindService TargetKind = "service"
)

// TargetStatus is a SyncTarget's lifecycle state.
type TargetStatus string

const (
	TargetStatusActive TargetStatus = "active"
	TargetStatusPaused TargetStatus = "paused"
	TargetStatusError  TargetStatus = "error"
)

// Target is a repo or service instance the engine synchronizes.
type Target struct {
	ID          string       `json:"id"`
	Kind        TargetKind   `json:"kind"`
	DisplayName string       `json:"display_name"`
	LocalPath   string       `json:"local_path"`
	StorePath   string       `json:"store_path"`
	Status      TargetStatus `json:"status"`
	IsFavourite bool         `json:"is_favourite,omitempty"`
	ServiceType string       `json:"service_type,omitempty"`
	Icon        string       `json:"icon,omitempty"`
}

// FileKind distinguishes a regular file from a symlink.
type FileKind string

const (
	FileKindFile    FileKind = "file"
	FileKindSymlink FileKind = "symlink"
)

// SyncStatus is a TrackedFile's reconciliation state.
type SyncStatus string

const (
	SyncStatusSynced           SyncStatus = "synced"
	SyncStatusPendingToTarget  SyncStatus = "pending_to_target"
	SyncStatusPendingToStore   SyncStatus = "pending_to_store"
	SyncStatusConflict         SyncStatus = "conflict"
	SyncStatusMissingInTarget  SyncStatus = "missing_in_target"
	SyncStatusMissingInStore   SyncStatus = "missing_in_store"
)

// TrackedFile is one file or symlink the engine is syncing inside a target.
type TrackedFile struct {
	ID             string     `json:"id"`
	TargetID       string     `json:"target_id"`
	RelativePath   string     `json:"relative_path"`
	Kind           FileKind   `json:"kind"`
	StoreChecksum  string     `json:"store_checksum,omitempty"`
	TargetChecksum string     `json:"target_checksum,omitempty"`
	StoreMtime     time.Time  `json:"store_mtime,omitempty"`
	TargetMtime    time.Time  `json:"target_mtime,omitempty"`
	SyncStatus     SyncStatus `json:"sync_status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// ConflictStatus is a Conflict's resolution state.
type ConflictStatus string

const (
	ConflictStatusPending        ConflictStatus = "pending"
	ConflictStatusResolvedStore  ConflictStatus = "resolved_store"
	ConflictStatusResolvedTarget ConflictStatus = "resolved_target"
	ConflictStatusResolvedManual ConflictStatus = "resolved_manual"
	ConflictStatusResolvedDelete ConflictStatus = "resolved_delete"
	ConflictStatusResolvedAuto   ConflictStatus = "resolved_auto"
)

// Conflict is an unresolved (or since-resolved) divergence on a TrackedFile.
type Conflict struct {
	ID             string         `json:"id"`
	TrackedFileID  string         `json:"tracked_file_id"`
	StoreContent   []byte         `json:"store_content,omitempty"`
	TargetContent  []byte         `json:"target_content,omitempty"`
	BaseContent    []byte         `json:"base_content,omitempty"`
	MergedContent  []byte         `json:"merged_content,omitempty"`
	StoreChecksum  string         `json:"store_checksum,omitempty"`
	TargetChecksum string         `json:"target_checksum,omitempty"`
	Status         ConflictStatus `json:"status"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// PatternKind distinguishes an include pattern from an ignore pattern.
type PatternKind string

const (
	PatternKindInclude PatternKind = "include"
	PatternKindIgnore  PatternKind = "ignore"
)

// PatternSource records where a global pattern came from.
type PatternSource string

const (
	PatternSourceDefault PatternSource = "default"
	PatternSourceUser    PatternSource = "user"
)

// GlobalPattern is a pattern in the global registry, shared by every target.
type GlobalPattern struct {
	Pattern string        `json:"pattern"`
	Enabled bool          `json:"enabled"`
	Source  PatternSource `json:"source"`
}

// PatternOverride flips a global pattern's enabled flag for one target,
// without changing the pattern's identity or source.
type PatternOverride struct {
	TargetID string      `json:"target_id"`
	Kind     PatternKind `json:"kind"`
	Pattern  string      `json:"pattern"`
	Enabled  bool        `json:"enabled"`
}

// LocalPattern is a target-only pattern with no global counterpart.
type LocalPattern struct {
	TargetID string      `json:"target_id"`
	Kind     PatternKind `json:"kind"`
	Pattern  string      `json:"pattern"`
	Enabled  bool        `json:"enabled"`
}
