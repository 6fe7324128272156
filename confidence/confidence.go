// Package confidence maps raw cosine distances to discrete confidence bands.
//
// The thresholds are empirically tuned per embedding model, so they are
// configuration rather than constants: swapping the extractor model means
// re-calibrating the bands without touching the distance logic.
package confidence

import "fmt"

// Level is a discrete confidence band for a match.
type Level int

const (
	// LevelLow indicates the candidate is likely a different person.
	LevelLow Level = iota
	// LevelMedium indicates a likely match that may warrant verification.
	LevelMedium
	// LevelHigh indicates a very likely match.
	LevelHigh
)

// String returns a string representation of the Level.
func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	case LevelLow:
		return "low"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// Thresholds holds the distance cutoffs that separate the bands.
// Both values are cosine distances in [0, 2].
type Thresholds struct {
	// High is the exclusive upper bound for LevelHigh: distance < High.
	High float32

	// Medium is the exclusive upper bound for LevelMedium:
	// High <= distance < Medium. Anything at or above Medium is LevelLow.
	Medium float32
}

// DefaultThresholds are calibrated for 128D dlib-style face embeddings.
var DefaultThresholds = Thresholds{
	High:   0.35,
	Medium: 0.45,
}

// Validate checks that the thresholds are ordered and within metric range.
func (t Thresholds) Validate() error {
	if t.High <= 0 || t.Medium <= 0 {
		return fmt.Errorf("confidence: thresholds must be positive: high=%g medium=%g", t.High, t.Medium)
	}
	if t.High >= t.Medium {
		return fmt.Errorf("confidence: high threshold %g must be below medium threshold %g", t.High, t.Medium)
	}
	if t.Medium > 2 {
		return fmt.Errorf("confidence: medium threshold %g exceeds cosine distance range [0,2]", t.Medium)
	}
	return nil
}

// Classify maps a cosine distance to its confidence band:
//
//	distance < High            -> LevelHigh
//	High <= distance < Medium  -> LevelMedium
//	distance >= Medium         -> LevelLow
func (t Thresholds) Classify(distance float32) Level {
	switch {
	case distance < t.High:
		return LevelHigh
	case distance < t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}
