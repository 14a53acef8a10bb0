// Package progress implements the C5 progress registry of spec.md section
// 4.5: a process-wide tracker holding one live SyncProgress per active
// sync, plus a bounded ring of recently-completed snapshots per source for
// subscribers that connect just after a sync finishes.
//
// Grounded on the teacher's metrics.Metrics: atomic counters for the
// hot-path increments a sync task makes on every file, an RWMutex guarding
// the handful of fields a reader snapshots as a whole (phase, current
// directory/file, accumulated error/warning lists).
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase is a sync's current stage, spec.md section 4.5.
type Phase string

const (
	PhaseInitializing           Phase = "initializing"
	PhaseEvaluating             Phase = "evaluating"
	PhaseDiscoveringDirectories Phase = "discovering_directories"
	PhaseDiscoveringFiles       Phase = "discovering_files"
	PhaseProcessingFiles        Phase = "processing_files"
	PhaseSavingMetadata         Phase = "saving_metadata"
	PhaseCompleted              Phase = "completed"
	PhaseFailed                 Phase = "failed"
)

// recentRingSize bounds the number of completed snapshots retained per
// source for late subscribers, spec.md section 3's "small ring" memory.
const recentRingSize = 5

// Snapshot is an immutable point-in-time read of a SyncProgress, shaped
// directly after the "progress" message data object of spec.md section 4.5.
type Snapshot struct {
	SourceID                  uuid.UUID `json:"source_id"`
	Phase                     Phase     `json:"phase"`
	IsActive                  bool      `json:"is_active"`
	CurrentDirectory          string    `json:"current_directory"`
	CurrentFile               *string   `json:"current_file,omitempty"`
	DirectoriesFound          int64     `json:"directories_found"`
	DirectoriesProcessed      int64     `json:"directories_processed"`
	FilesFound                int64     `json:"files_found"`
	FilesProcessed            int64     `json:"files_processed"`
	BytesProcessed            int64     `json:"bytes_processed"`
	FilesProgressPercent      float64   `json:"files_progress_percent"`
	ProcessingRate            float64   `json:"processing_rate"` // files per second
	EstimatedSecondsRemaining *float64  `json:"estimated_seconds_remaining,omitempty"`
	Errors                    []string  `json:"errors"`
	Warnings                  []string  `json:"warnings"`
	ElapsedSeconds            float64   `json:"elapsed_seconds"`
}

// SyncProgress is the live, mutable progress state of one running sync.
// Counters are atomic so the sync task's hot per-file loop never blocks on
// a lock; the handful of fields read together as a unit (phase, current
// location, accumulated messages) are guarded by mu.
type SyncProgress struct {
	sourceID  uuid.UUID
	startedAt time.Time

	directoriesFound     atomic.Int64
	directoriesProcessed atomic.Int64
	filesFound           atomic.Int64
	filesProcessed       atomic.Int64
	bytesProcessed       atomic.Int64

	mu               sync.RWMutex
	phase            Phase
	currentDirectory string
	currentFile      *string
	errors           []string
	warnings         []string
}

func newSyncProgress(sourceID uuid.UUID) *SyncProgress {
	return &SyncProgress{
		sourceID:  sourceID,
		startedAt: time.Now(),
		phase:     PhaseInitializing,
	}
}

// SetPhase updates the current phase.
func (p *SyncProgress) SetPhase(phase Phase) {
	p.mu.Lock()
	p.phase = phase
	p.mu.Unlock()
}

// SetCurrentDirectory records the directory currently being scanned.
func (p *SyncProgress) SetCurrentDirectory(dir string) {
	p.mu.Lock()
	p.currentDirectory = dir
	p.mu.Unlock()
}

// SetCurrentFile records the file currently being processed, or clears it
// when file is nil (e.g. between files, or at directory boundaries).
func (p *SyncProgress) SetCurrentFile(file *string) {
	p.mu.Lock()
	p.currentFile = file
	p.mu.Unlock()
}

// AddError appends a message to the sync's error list.
func (p *SyncProgress) AddError(msg string) {
	p.mu.Lock()
	p.errors = append(p.errors, msg)
	p.mu.Unlock()
}

// AddWarning appends a message to the sync's warning list.
func (p *SyncProgress) AddWarning(msg string) {
	p.mu.Lock()
	p.warnings = append(p.warnings, msg)
	p.mu.Unlock()
}

// IncDirectoriesFound adds n to the discovered-directory count.
func (p *SyncProgress) IncDirectoriesFound(n int64) { p.directoriesFound.Add(n) }

// IncDirectoriesProcessed adds n to the processed-directory count.
func (p *SyncProgress) IncDirectoriesProcessed(n int64) { p.directoriesProcessed.Add(n) }

// IncFilesFound adds n to the discovered-file count.
func (p *SyncProgress) IncFilesFound(n int64) { p.filesFound.Add(n) }

// IncFilesProcessed adds n to the processed-file count.
func (p *SyncProgress) IncFilesProcessed(n int64) { p.filesProcessed.Add(n) }

// AddBytesProcessed adds n to the processed-byte count.
func (p *SyncProgress) AddBytesProcessed(n int64) { p.bytesProcessed.Add(n) }

// Snapshot takes a consistent read of the current state, computing rate
// and ETA, for the message envelope in spec.md section 4.5.
func (p *SyncProgress) Snapshot() Snapshot {
	p.mu.RLock()
	phase := p.phase
	dir := p.currentDirectory
	file := p.currentFile
	errs := append([]string(nil), p.errors...)
	warns := append([]string(nil), p.warnings...)
	p.mu.RUnlock()

	filesFound := p.filesFound.Load()
	filesProcessed := p.filesProcessed.Load()
	elapsed := time.Since(p.startedAt).Seconds()

	var pct float64
	if filesFound > 0 {
		pct = 100 * float64(filesProcessed) / float64(filesFound)
	}

	var rate float64
	if elapsed > 0 {
		rate = float64(filesProcessed) / elapsed
	}

	var eta *float64
	if rate > 0 && filesFound > filesProcessed {
		remaining := float64(filesFound-filesProcessed) / rate
		eta = &remaining
	}

	return Snapshot{
		SourceID:                  p.sourceID,
		Phase:                     phase,
		IsActive:                  phase != PhaseCompleted && phase != PhaseFailed,
		CurrentDirectory:          dir,
		CurrentFile:               file,
		DirectoriesFound:          p.directoriesFound.Load(),
		DirectoriesProcessed:      p.directoriesProcessed.Load(),
		FilesFound:                filesFound,
		FilesProcessed:            filesProcessed,
		BytesProcessed:            p.bytesProcessed.Load(),
		FilesProgressPercent:      pct,
		ProcessingRate:            rate,
		EstimatedSecondsRemaining: eta,
		Errors:                    errs,
		Warnings:                  warns,
		ElapsedSeconds:            elapsed,
	}
}

// Tracker is the process-wide SyncProgressTracker of spec.md section 4.5:
// a map of active syncs plus a bounded ring of recent snapshots per source.
type Tracker struct {
	mu     sync.RWMutex
	active map[uuid.UUID]*SyncProgress
	recent map[uuid.UUID][]Snapshot
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[uuid.UUID]*SyncProgress),
		recent: make(map[uuid.UUID][]Snapshot),
	}
}

// Register creates and tracks a new SyncProgress for sourceID, replacing
// any prior entry (a new sync task always supersedes a stale registration
// left over from an interrupted one).
func (t *Tracker) Register(sourceID uuid.UUID) *SyncProgress {
	p := newSyncProgress(sourceID)
	t.mu.Lock()
	t.active[sourceID] = p
	t.mu.Unlock()
	return p
}

// Unregister removes sourceID's active entry and files its final snapshot
// into the recent ring, so a subscriber connecting immediately after
// completion still sees the terminal state.
func (t *Tracker) Unregister(sourceID uuid.UUID, final Snapshot) {
	t.mu.Lock()
	delete(t.active, sourceID)
	ring := append(t.recent[sourceID], final)
	if len(ring) > recentRingSize {
		ring = ring[len(ring)-recentRingSize:]
	}
	t.recent[sourceID] = ring
	t.mu.Unlock()
}

// Get returns the active SyncProgress for sourceID, if any.
func (t *Tracker) Get(sourceID uuid.UUID) (*SyncProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.active[sourceID]
	return p, ok
}

// Recent returns the most recently completed snapshots for sourceID,
// oldest first.
func (t *Tracker) Recent(sourceID uuid.UUID) []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Snapshot(nil), t.recent[sourceID]...)
}
