package syncengine

import "github.com/docvault/ingestd/etag"

// targetedScanChangeRatio and targetedScanMaxNewDirs are the thresholds of
// spec.md section 4.2: "few changes" stays a TargetedScan only at or below
// both.
const (
	targetedScanChangeRatio = 0.30
	targetedScanMaxNewDirs  = 5
)

// DirectoryObservation pairs a directory the backend reported with the
// previously recorded state for it, if any (nil for a directory never seen
// before).
type DirectoryObservation struct {
	Path      string
	NewETag   string
	Recorded  *DirectoryState // nil if this directory is new
}

// Decide implements spec.md section 4.2's discovery decision: compare the
// server's current directory ETags against recorded WebDAVDirectoryState
// using RFC 7232 smart equality, then classify the whole scan.
//
//   - All unchanged (and no new directories)  -> SkipSync
//   - Few changes (<=30% of known dirs changed, <=5 new dirs) -> TargetedScan
//   - Many changes or first run (no recorded state at all) -> FullDeepScan
//
// A known directory whose current ETag is empty counts as changed.
//
// changed returns exactly the directories that need a deep scan under
// TargetedScan (empty for SkipSync/FullDeepScan, where the caller already
// knows what to do with the whole tree).
func Decide(observations []DirectoryObservation) (strategy Strategy, changed []string) {
	if len(observations) == 0 {
		return StrategySkipSync, nil
	}

	knownCount := 0
	changedCount := 0
	newCount := 0
	var changedPaths []string

	for _, obs := range observations {
		if obs.Recorded == nil {
			newCount++
			changedPaths = append(changedPaths, obs.Path)
			continue
		}
		knownCount++
		if obs.NewETag == "" || !etag.SmartEqual(obs.Recorded.DirectoryETag, obs.NewETag) {
			changedCount++
			changedPaths = append(changedPaths, obs.Path)
		}
	}

	if knownCount == 0 {
		// First run: nothing has ever been recorded for this source.
		return StrategyFullDeepScan, nil
	}

	if changedCount == 0 && newCount == 0 {
		return StrategySkipSync, nil
	}

	ratio := float64(changedCount) / float64(knownCount)
	if ratio <= targetedScanChangeRatio && newCount <= targetedScanMaxNewDirs {
		return StrategyTargetedScan, changedPaths
	}

	return StrategyFullDeepScan, nil
}
