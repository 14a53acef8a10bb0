// Package syncengine implements the source-sync engine of spec.md section
// 4.2 (C2): the scheduler loop, per-source sync tasks, the smart-sync
// discovery decision, planning & dedup against the document registry, and
// the per-directory commit that keeps WebDAVDirectoryState/WebDAVFileState
// durable and resumable.
//
// The scheduler/worker-task split is grounded on the teacher's
// coordinator.Coordinator.Run: a control loop that fans work out to bounded
// concurrent tasks and tracks each one's status under a lock, generalized
// here from a one-shot bounded manifest to a recurring per-source tick.
package syncengine

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies which Backend a source uses, spec.md section 3.
type SourceType string

const (
	SourceWebDAV      SourceType = "WebDAV"
	SourceLocalFolder SourceType = "LocalFolder"
	SourceS3          SourceType = "S3"
)

// SourceStatus is a Source's current sync state, spec.md section 3.
type SourceStatus string

const (
	SourceIdle    SourceStatus = "idle"
	SourceSyncing SourceStatus = "syncing"
	SourceError   SourceStatus = "error"
)

// Source mirrors the Source entity of spec.md section 3. Config is the
// opaque typed per-backend configuration (base URL/credentials for
// WebDAV, bucket/prefix for S3, root path for LocalFolder), stored as JSON.
type Source struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Name              string
	Type              SourceType
	Config            []byte
	Status            SourceStatus
	Enabled           bool
	AutoSync          bool
	SyncIntervalMins  int
	LastSyncAt        *time.Time
	LastError         *string
	FilesSynced       int64
	BytesSynced       int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DirectoryState mirrors WebDAVDirectoryState, spec.md section 3 — the
// durable memory that makes discovery incremental.
type DirectoryState struct {
	UserID         uuid.UUID
	DirectoryPath  string
	DirectoryETag  string
	FileCount      int
	TotalSizeBytes int64
	LastScannedAt  time.Time
}

// FileState mirrors WebDAVFileState, spec.md section 3.
type FileState struct {
	UserID       uuid.UUID
	Path         string
	ETag         string
	LastModified time.Time
	Size         int64
	MimeType     string
	DocumentID   *uuid.UUID
	SyncStatus   FileSyncStatus
	SyncError    *string
}

// FileSyncStatus is a FileState's outcome, spec.md section 3.
type FileSyncStatus string

const (
	FileSyncPending          FileSyncStatus = "pending"
	FileSyncSynced           FileSyncStatus = "synced"
	FileSyncDuplicateContent FileSyncStatus = "duplicate_content"
	FileSyncError            FileSyncStatus = "error"
)

// SyncState mirrors WebDAVSyncState, spec.md section 4.2's resumability:
// one row per user tracking whether a sync is running, its last cursor,
// counters, current folder, and accumulated errors — observed on the next
// boot if a crash interrupted it mid-sync.
type SyncState struct {
	UserID          uuid.UUID
	Running         bool
	LastCursor      string
	CurrentFolder   string
	FilesProcessed  int64
	DirsProcessed   int64
	Errors          []string
	UpdatedAt       time.Time
}

// Strategy is the discovery decision for a directory, spec.md section 4.2.
type Strategy string

const (
	StrategySkipSync     Strategy = "SkipSync"
	StrategyTargetedScan Strategy = "TargetedScan"
	StrategyFullDeepScan Strategy = "FullDeepScan"
)
