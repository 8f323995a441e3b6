package memory

// Level is the memory pressure classification.
type Level uint8

const (
	LevelNormal Level = iota
	LevelElevated
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelElevated:
		return "elevated"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds map a snapshot to a level. Native thresholds of zero are
// disabled.
type Thresholds struct {
	ElevatedRatio  float64
	CriticalRatio  float64
	ElevatedNative int
	CriticalNative int
}

// DefaultThresholds returns production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ElevatedRatio: 0.70,
		CriticalRatio: 0.90,
	}
}

// Classify returns the higher of the heap level and the native level.
func (t Thresholds) Classify(s Snapshot) Level {
	level := LevelNormal
	ratio := s.HeapRatio()
	switch {
	case t.CriticalRatio > 0 && ratio >= t.CriticalRatio:
		level = LevelCritical
	case t.ElevatedRatio > 0 && ratio >= t.ElevatedRatio:
		level = LevelElevated
	}

	switch {
	case t.CriticalNative > 0 && s.NativeResources >= t.CriticalNative:
		level = LevelCritical
	case t.ElevatedNative > 0 && s.NativeResources >= t.ElevatedNative && level < LevelElevated:
		level = LevelElevated
	}
	return level
}

// Trend is the direction of heap usage across the retained history.
type Trend uint8

const (
	TrendStable Trend = iota
	TrendRising
	TrendFalling
)

func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	default:
		return "stable"
	}
}

// trendBand is the relative change below which usage counts as stable.
const trendBand = 0.10

func trendOf(history []Snapshot) Trend {
	if len(history) < 2 {
		return TrendStable
	}
	first := float64(history[0].HeapUsed)
	last := float64(history[len(history)-1].HeapUsed)
	switch {
	case first == 0 && last > 0:
		return TrendRising
	case first == 0:
		return TrendStable
	case last > first*(1+trendBand):
		return TrendRising
	case last < first*(1-trendBand):
		return TrendFalling
	default:
		return TrendStable
	}
}
