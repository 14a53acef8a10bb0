package progress

import (
	"testing"

	"github.com/google/uuid"
)

func TestSyncProgress_SnapshotComputesPercentAndRate(t *testing.T) {
	p := newSyncProgress(uuid.New())
	p.SetPhase(PhaseProcessingFiles)
	p.IncFilesFound(10)
	p.IncFilesProcessed(5)
	p.AddBytesProcessed(1024)

	snap := p.Snapshot()
	if snap.FilesProgressPercent != 50 {
		t.Fatalf("expected 50%%, got %v", snap.FilesProgressPercent)
	}
	if !snap.IsActive {
		t.Fatal("expected an in-progress phase to be active")
	}
	if snap.BytesProcessed != 1024 {
		t.Fatalf("expected 1024 bytes processed, got %d", snap.BytesProcessed)
	}
}

func TestSyncProgress_CompletedPhaseIsNotActive(t *testing.T) {
	p := newSyncProgress(uuid.New())
	p.SetPhase(PhaseCompleted)
	if p.Snapshot().IsActive {
		t.Fatal("expected completed phase to report inactive")
	}
}

func TestSyncProgress_ZeroFilesFoundHasZeroPercent(t *testing.T) {
	p := newSyncProgress(uuid.New())
	snap := p.Snapshot()
	if snap.FilesProgressPercent != 0 {
		t.Fatalf("expected 0%% with no files found, got %v", snap.FilesProgressPercent)
	}
}

func TestSyncProgress_ErrorsAndWarningsAccumulate(t *testing.T) {
	p := newSyncProgress(uuid.New())
	p.AddError("boom")
	p.AddWarning("careful")
	snap := p.Snapshot()
	if len(snap.Errors) != 1 || snap.Errors[0] != "boom" {
		t.Fatalf("unexpected errors: %v", snap.Errors)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0] != "careful" {
		t.Fatalf("unexpected warnings: %v", snap.Warnings)
	}
}

func TestTracker_RegisterGetUnregister(t *testing.T) {
	tr := NewTracker()
	sourceID := uuid.New()

	p := tr.Register(sourceID)
	p.SetPhase(PhaseDiscoveringFiles)

	got, ok := tr.Get(sourceID)
	if !ok || got != p {
		t.Fatal("expected Get to return the registered SyncProgress")
	}

	final := p.Snapshot()
	final.Phase = PhaseCompleted
	tr.Unregister(sourceID, final)

	if _, ok := tr.Get(sourceID); ok {
		t.Fatal("expected Get to report absent after Unregister")
	}
	recent := tr.Recent(sourceID)
	if len(recent) != 1 || recent[0].Phase != PhaseCompleted {
		t.Fatalf("expected one completed snapshot in the ring, got %v", recent)
	}
}

func TestTracker_RecentRingIsBounded(t *testing.T) {
	tr := NewTracker()
	sourceID := uuid.New()

	for i := 0; i < recentRingSize+3; i++ {
		tr.Unregister(sourceID, Snapshot{SourceID: sourceID})
	}

	if got := len(tr.Recent(sourceID)); got != recentRingSize {
		t.Fatalf("expected ring bounded at %d, got %d", recentRingSize, got)
	}
}

func TestTracker_GetMissingSourceReturnsFalse(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Get(uuid.New()); ok {
		t.Fatal("expected Get to report absent for an unregistered source")
	}
}
