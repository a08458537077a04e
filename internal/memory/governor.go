package memory

import (
	"math"
	"sync"
)

const (
	// estimateMultiplier scales a payload size to its expected peak memory
	// footprint: decoded pixel buffer plus encode scratch for a typical
	// HEIC source.
	estimateMultiplier = 5.5

	// reclaimKeepFraction is the share of releasable allocations reclaim
	// retains, newest first.
	reclaimKeepFraction = 0.3
)

// Estimate returns the expected peak memory footprint for a payload.
func Estimate(payloadBytes int64) int64 {
	if payloadBytes <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(payloadBytes) * estimateMultiplier))
}

type allocation struct {
	key     string
	bytes   int64
	release func()
}

// Stats is a point-in-time view of governor accounting.
type Stats struct {
	CeilingBytes     int64   `json:"ceilingBytes"`
	BudgetBytes      int64   `json:"budgetBytes"`
	UsageBytes       int64   `json:"usageBytes"`
	ReclaimThreshold float64 `json:"reclaimThreshold"`
	Allocations      int     `json:"allocations"`
	Releasable       int     `json:"releasable"`
}

// Governor admits work against a fixed memory ceiling.
type Governor struct {
	mu          sync.Mutex
	ceiling     int64
	threshold   float64
	allocations []allocation
	usage       int64
}

// New returns a governor for the given ceiling. Threshold is the fraction
// of the ceiling usable before reclaim kicks in; values outside (0, 1]
// fall back to 0.8.
func New(ceilingBytes int64, reclaimThreshold float64) *Governor {
	if reclaimThreshold <= 0 || reclaimThreshold > 1 {
		reclaimThreshold = 0.8
	}
	return &Governor{ceiling: ceilingBytes, threshold: reclaimThreshold}
}

// Budget returns the usable byte budget, ceiling scaled by the threshold.
func (g *Governor) Budget() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budgetLocked()
}

func (g *Governor) budgetLocked() int64 {
	return int64(float64(g.ceiling) * g.threshold)
}

// Usage returns the currently tracked byte total.
func (g *Governor) Usage() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// HasBudget reports whether an estimate fits in the remaining budget.
// When it does not, the governor reclaims releasable allocations once and
// answers against the reduced usage.
func (g *Governor) HasBudget(estimateBytes int64) bool {
	g.mu.Lock()
	if g.usage+estimateBytes <= g.budgetLocked() {
		g.mu.Unlock()
		return true
	}
	g.mu.Unlock()

	g.Reclaim()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage+estimateBytes <= g.budgetLocked()
}

// Track records a pinned allocation. Pinned allocations are never touched
// by reclaim; the caller must untrack them. Re-tracking a key replaces the
// previous allocation and refreshes its recency.
func (g *Governor) Track(key string, bytes int64) {
	g.track(key, bytes, nil)
}

// TrackReleasable records an allocation reclaim may release under pressure.
// The release hook runs outside the governor lock when the allocation is
// evicted.
func (g *Governor) TrackReleasable(key string, bytes int64, release func()) {
	if release == nil {
		release = func() {}
	}
	g.track(key, bytes, release)
}

func (g *Governor) track(key string, bytes int64, release func()) {
	if key == "" || bytes <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(key)
	g.allocations = append(g.allocations, allocation{key: key, bytes: bytes, release: release})
	g.usage += bytes
}

// Untrack removes an allocation and returns the bytes released. Unknown
// keys release nothing.
func (g *Governor) Untrack(key string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(key)
}

func (g *Governor) removeLocked(key string) int64 {
	for i, alloc := range g.allocations {
		if alloc.key != key {
			continue
		}
		g.allocations = append(g.allocations[:i], g.allocations[i+1:]...)
		g.usage -= alloc.bytes
		if g.usage < 0 {
			g.usage = 0
		}
		return alloc.bytes
	}
	return 0
}

// Reclaim releases the oldest releasable allocations, keeping the most
// recent share, and returns the bytes freed. Pinned allocations survive.
func (g *Governor) Reclaim() int64 {
	g.mu.Lock()
	releasableCount := 0
	for _, alloc := range g.allocations {
		if alloc.release != nil {
			releasableCount++
		}
	}
	keep := int(math.Ceil(float64(releasableCount) * reclaimKeepFraction))
	evictCount := releasableCount - keep
	if evictCount <= 0 {
		g.mu.Unlock()
		return 0
	}

	evicted := make([]allocation, 0, evictCount)
	retained := g.allocations[:0]
	for _, alloc := range g.allocations {
		if len(evicted) < evictCount && alloc.release != nil {
			evicted = append(evicted, alloc)
			continue
		}
		retained = append(retained, alloc)
	}
	g.allocations = retained

	var released int64
	for _, alloc := range evicted {
		released += alloc.bytes
	}
	g.usage -= released
	if g.usage < 0 {
		g.usage = 0
	}
	g.mu.Unlock()

	for _, alloc := range evicted {
		alloc.release()
	}
	return released
}

// Stats returns current accounting for status reporting.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := Stats{
		CeilingBytes:     g.ceiling,
		BudgetBytes:      g.budgetLocked(),
		UsageBytes:       g.usage,
		ReclaimThreshold: g.threshold,
		Allocations:      len(g.allocations),
	}
	for _, alloc := range g.allocations {
		if alloc.release != nil {
			stats.Releasable++
		}
	}
	return stats
}
