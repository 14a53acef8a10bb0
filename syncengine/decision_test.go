package syncengine

import "testing"

func recordedDirs(n int, etag string) []DirectoryObservation {
	obs := make([]DirectoryObservation, n)
	for i := range obs {
		obs[i] = DirectoryObservation{
			Path:     dirName(i),
			NewETag:  etag,
			Recorded: &DirectoryState{DirectoryPath: dirName(i), DirectoryETag: etag},
		}
	}
	return obs
}

func dirName(i int) string {
	return "/Documents/sub" + string(rune('a'+i))
}

func TestDecide_SkipSync_WeakAndStrongETagMatch(t *testing.T) {
	obs := []DirectoryObservation{
		{Path: "/Documents", NewETag: `"a"`, Recorded: &DirectoryState{DirectoryPath: "/Documents", DirectoryETag: `W/"a"`}},
	}
	strategy, changed := Decide(obs)
	if strategy != StrategySkipSync {
		t.Fatalf("expected SkipSync, got %s", strategy)
	}
	if len(changed) != 0 {
		t.Fatalf("expected no changed directories, got %v", changed)
	}
}

func TestDecide_TargetedScan_OneOfTenChanged(t *testing.T) {
	obs := recordedDirs(10, `"same"`)
	obs[3].NewETag = `"different"`

	strategy, changed := Decide(obs)
	if strategy != StrategyTargetedScan {
		t.Fatalf("expected TargetedScan, got %s", strategy)
	}
	if len(changed) != 1 || changed[0] != dirName(3) {
		t.Fatalf("expected exactly %s changed, got %v", dirName(3), changed)
	}
}

func TestDecide_FullDeepScan_SixOfTenChanged(t *testing.T) {
	obs := recordedDirs(10, `"same"`)
	for i := 0; i < 6; i++ {
		obs[i].NewETag = `"different"`
	}

	strategy, _ := Decide(obs)
	if strategy != StrategyFullDeepScan {
		t.Fatalf("expected FullDeepScan, got %s", strategy)
	}
}

func TestDecide_FullDeepScan_FirstRun(t *testing.T) {
	obs := []DirectoryObservation{
		{Path: "/Documents", NewETag: `"a"`, Recorded: nil},
	}
	strategy, _ := Decide(obs)
	if strategy != StrategyFullDeepScan {
		t.Fatalf("expected FullDeepScan on first run, got %s", strategy)
	}
}

func TestDecide_TargetedScan_TooManyNewDirsEscalates(t *testing.T) {
	obs := recordedDirs(10, `"same"`)
	for i := 0; i < 6; i++ {
		obs = append(obs, DirectoryObservation{Path: dirName(10 + i), NewETag: `"new"`, Recorded: nil})
	}

	strategy, _ := Decide(obs)
	if strategy != StrategyFullDeepScan {
		t.Fatalf("expected FullDeepScan when new dirs exceed the cap, got %s", strategy)
	}
}

func TestDecide_NoObservations(t *testing.T) {
	strategy, changed := Decide(nil)
	if strategy != StrategySkipSync {
		t.Fatalf("expected SkipSync for an empty observation set, got %s", strategy)
	}
	if changed != nil {
		t.Fatalf("expected no changed directories, got %v", changed)
	}
}
