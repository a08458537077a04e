package convert

import "strings"

// Stage names a phase of a single conversion. Stages advance in a fixed order
// and each owns a band of the task's overall percentage.
type Stage string

const (
	StageLoading    Stage = "loading"
	StageDecoding   Stage = "decoding"
	StageEncoding   Stage = "encoding"
	StageFinalizing Stage = "finalizing"
	StageComplete   Stage = "complete"
)

// stageOrder fixes both the progression sequence and the percentage band
// boundaries: loading 0-20, decoding 20-60, encoding 60-90, finalizing 90-100.
var stageOrder = []struct {
	stage Stage
	lo    float64
	hi    float64
}{
	{StageLoading, 0, 20},
	{StageDecoding, 20, 60},
	{StageEncoding, 60, 90},
	{StageFinalizing, 90, 100},
	{StageComplete, 100, 100},
}

// ParseStage maps an engine-reported stage name onto the canonical set.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, entry := range stageOrder {
		if entry.stage == normalized {
			return entry.stage, true
		}
	}
	return "", false
}

// Valid reports whether the stage is one of the canonical phases.
func (s Stage) Valid() bool {
	_, ok := s.index()
	return ok
}

// Index returns the stage's position in the progression, with ok false for
// unknown stages.
func (s Stage) Index() (int, bool) {
	return s.index()
}

func (s Stage) index() (int, bool) {
	for i, entry := range stageOrder {
		if entry.stage == s {
			return i, true
		}
	}
	return 0, false
}

// Band returns the stage's inclusive percentage range within the overall task.
func (s Stage) Band() (lo, hi float64) {
	if i, ok := s.index(); ok {
		return stageOrder[i].lo, stageOrder[i].hi
	}
	return 0, 0
}

// Next returns the stage that follows s, or StageComplete when s is last.
func (s Stage) Next() Stage {
	if i, ok := s.index(); ok && i+1 < len(stageOrder) {
		return stageOrder[i+1].stage
	}
	return StageComplete
}

// GlobalPercent maps a within-stage fraction (0..1) onto the task-wide
// percentage scale. Fractions are clamped so engine noise can never move a
// task backwards out of its band.
func GlobalPercent(stage Stage, fraction float64) float64 {
	lo, hi := stage.Band()
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return lo + (hi-lo)*fraction
}

// Stages lists the canonical progression in order.
func Stages() []Stage {
	out := make([]Stage, 0, len(stageOrder))
	for _, entry := range stageOrder {
		out = append(out, entry.stage)
	}
	return out
}
