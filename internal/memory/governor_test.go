package memory

import (
	"errors"
	"testing"
)

func TestEstimate(t *testing.T) {
	if got := Estimate(1000); got != 5500 {
		t.Fatalf("Estimate(1000) = %d, want 5500", got)
	}
	if got := Estimate(3); got != 17 {
		t.Fatalf("Estimate(3) = %d, want 17", got)
	}
	if got := Estimate(0); got != 0 {
		t.Fatalf("Estimate(0) = %d, want 0", got)
	}
	if got := Estimate(-10); got != 0 {
		t.Fatalf("Estimate(-10) = %d, want 0", got)
	}
}

func TestHasBudgetWithinThreshold(t *testing.T) {
	g := New(1000, 0.8)
	g.Track("running", 500)

	if !g.HasBudget(300) {
		t.Fatal("expected 500+300 to fit budget 800")
	}
	if g.HasBudget(301) {
		t.Fatal("expected 500+301 to exceed budget 800")
	}
}

func TestHasBudgetNeverFitsOversizedEstimate(t *testing.T) {
	g := New(1000, 0.8)
	if g.HasBudget(900) {
		t.Fatal("expected estimate above budget to be refused even when idle")
	}
}

func TestHasBudgetTriggersReclaim(t *testing.T) {
	g := New(1000, 0.8)
	released := 0
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		g.TrackReleasable(key, 80, func() { released++ })
	}
	if g.Usage() != 800 {
		t.Fatalf("expected usage 800, got %d", g.Usage())
	}

	if !g.HasBudget(100) {
		t.Fatal("expected reclaim to free enough budget")
	}
	if released != 7 {
		t.Fatalf("expected 7 allocations reclaimed, got %d", released)
	}
	if g.Usage() != 240 {
		t.Fatalf("expected usage 240 after reclaim, got %d", g.Usage())
	}
}

func TestReclaimKeepsPinnedAllocations(t *testing.T) {
	g := New(10000, 1)
	g.Track("pinned", 600)
	g.TrackReleasable("old", 100, func() {})
	g.TrackReleasable("new", 100, func() {})

	freed := g.Reclaim()
	if freed != 100 {
		t.Fatalf("expected 100 bytes freed, got %d", freed)
	}
	if g.Usage() != 700 {
		t.Fatalf("expected usage 700, got %d", g.Usage())
	}
	if g.Untrack("pinned") != 600 {
		t.Fatal("expected pinned allocation to survive reclaim")
	}
}

func TestReclaimEvictsOldestFirst(t *testing.T) {
	g := New(10000, 1)
	var evicted []string
	for _, key := range []string{"first", "second", "third"} {
		g.TrackReleasable(key, 10, func() { evicted = append(evicted, key) })
	}

	g.Reclaim()

	if len(evicted) != 2 {
		t.Fatalf("expected 2 evictions, got %d", len(evicted))
	}
	if evicted[0] != "first" || evicted[1] != "second" {
		t.Fatalf("expected oldest-first eviction, got %v", evicted)
	}
	if g.Untrack("third") != 10 {
		t.Fatal("expected newest allocation retained")
	}
}

func TestUntrack(t *testing.T) {
	g := New(1000, 0.8)
	g.Track("a", 300)

	if got := g.Untrack("a"); got != 300 {
		t.Fatalf("Untrack returned %d, want 300", got)
	}
	if g.Usage() != 0 {
		t.Fatalf("expected usage 0, got %d", g.Usage())
	}
	if got := g.Untrack("missing"); got != 0 {
		t.Fatalf("Untrack of unknown key returned %d, want 0", got)
	}
}

func TestTrackReplacesExistingKey(t *testing.T) {
	g := New(1000, 0.8)
	g.Track("a", 100)
	g.Track("a", 250)

	if g.Usage() != 250 {
		t.Fatalf("expected usage 250 after re-track, got %d", g.Usage())
	}
	stats := g.Stats()
	if stats.Allocations != 1 {
		t.Fatalf("expected 1 allocation, got %d", stats.Allocations)
	}
}

func TestStats(t *testing.T) {
	g := New(1000, 0.8)
	g.Track("pinned", 100)
	g.TrackReleasable("scratch", 50, func() {})

	stats := g.Stats()
	if stats.CeilingBytes != 1000 || stats.BudgetBytes != 800 {
		t.Fatalf("unexpected ceiling/budget: %+v", stats)
	}
	if stats.UsageBytes != 150 {
		t.Fatalf("expected usage 150, got %d", stats.UsageBytes)
	}
	if stats.Allocations != 2 || stats.Releasable != 1 {
		t.Fatalf("unexpected allocation counts: %+v", stats)
	}
}

type failingProbe struct{}

func (failingProbe) Ceiling() (int64, error) {
	return 0, errors.New("probe unavailable")
}

func TestResolveCeiling(t *testing.T) {
	if got := ResolveCeiling(4096, FixedProbe(1)); got != 4096 {
		t.Fatalf("expected configured ceiling to win, got %d", got)
	}
	if got := ResolveCeiling(0, FixedProbe(8192)); got != 8192 {
		t.Fatalf("expected probe ceiling, got %d", got)
	}
	if got := ResolveCeiling(0, failingProbe{}); got != defaultCeilingBytes {
		t.Fatalf("expected fallback ceiling, got %d", got)
	}
	if got := ResolveCeiling(0, FixedProbe(0)); got != defaultCeilingBytes {
		t.Fatalf("expected fallback for non-positive probe, got %d", got)
	}
}
