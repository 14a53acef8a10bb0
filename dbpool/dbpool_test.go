package dbpool

import "testing"

// utilization mirrors Probe's inline computation so the percentage math
// can be exercised without a live pgxpool.Pool, which Probe requires for
// its Stat() and QueryRow calls.
func utilization(total, idle int32) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-idle) / float64(total) * 100
}

func TestUtilization_AllIdle(t *testing.T) {
	if got := utilization(10, 10); got != 0 {
		t.Fatalf("expected 0%% utilization when fully idle, got %v", got)
	}
}

func TestUtilization_AllBusy(t *testing.T) {
	if got := utilization(10, 0); got != 100 {
		t.Fatalf("expected 100%% utilization when none idle, got %v", got)
	}
}

func TestUtilization_Partial(t *testing.T) {
	if got := utilization(4, 1); got != 75 {
		t.Fatalf("expected 75%%, got %v", got)
	}
}

func TestUtilization_ZeroSizePool(t *testing.T) {
	if got := utilization(0, 0); got != 0 {
		t.Fatalf("expected 0%% for an empty pool, got %v", got)
	}
}

func TestHealth_ZeroValueIsEmpty(t *testing.T) {
	var h Health
	if h.ResponseTimeErr != nil {
		t.Fatal("zero-value Health should carry no error until Probe runs")
	}
	if h.Size != 0 || h.Idle != 0 {
		t.Fatal("zero-value Health should report zero size and idle")
	}
}
