// Package risk turns per-frame crowd attributes into risk levels and
// aggregates a session's histogram into a 0-100 score.
//
// Everything here is pure: no I/O, no clocks, no shared state.
package risk

import (
	"fmt"
	"math"

	"github.com/thebtf/crowdwatch/pkg/models"
)

// Score shaping constants.
const (
	MaxScore = 100.0

	HighDensityRatio      = 0.3
	HighDensityMultiplier = 1.2
	ChaoticRatio          = 0.2
	ChaoticMultiplier     = 1.3
)

// Verdict thresholds (inclusive upper bounds).
const (
	SafeUpperBound  = 15.0
	WatchUpperBound = 40.0
	AlertUpperBound = 70.0
)

// Weights is the per-level contribution to the weighted base score.
var Weights = map[models.RiskLevel]float64{
	models.RiskSafe:     0,
	models.RiskModerate: 25,
	models.RiskHigh:     60,
	models.RiskCritical: 100,
}

// Classify maps a frame's density and motion to a risk level.
// Motion dominates; a non-chaotic High density frame is still MODERATE.
func Classify(density models.Density, motion models.Motion) models.RiskLevel {
	if motion == models.MotionChaotic {
		switch density {
		case models.DensityHigh:
			return models.RiskCritical
		case models.DensityMedium:
			return models.RiskHigh
		default:
			return models.RiskModerate
		}
	}
	if density == models.DensityHigh {
		return models.RiskModerate
	}
	return models.RiskSafe
}

// Score computes the session risk score in [0, 100], rounded to 2 decimals.
// A malformed breakdown falls back to the flagged-frame percentage.
func Score(b models.Breakdown, framesAnalyzed, framesFlagged int) float64 {
	if framesAnalyzed <= 0 {
		return 0
	}
	score, err := weightedScore(b, framesAnalyzed)
	if err != nil {
		return FallbackScore(framesAnalyzed, framesFlagged)
	}
	return score
}

// FallbackScore is the plain flagged percentage.
func FallbackScore(framesAnalyzed, framesFlagged int) float64 {
	if framesAnalyzed <= 0 {
		return 0
	}
	return clamp(round2(float64(framesFlagged) / float64(framesAnalyzed) * 100))
}

// MalformedBreakdownError reports a histogram that cannot be scored.
type MalformedBreakdownError struct {
	Histogram string
	Sum       int
	Frames    int
}

func (e *MalformedBreakdownError) Error() string {
	return fmt.Sprintf("malformed %s histogram: sum %d, frames analyzed %d", e.Histogram, e.Sum, e.Frames)
}

func weightedScore(b models.Breakdown, n int) (float64, error) {
	r := b.RiskLevels
	if r.Safe < 0 || r.Moderate < 0 || r.High < 0 || r.Critical < 0 {
		return 0, &MalformedBreakdownError{Histogram: "risk_levels", Sum: r.Total(), Frames: n}
	}
	if r.Total() != n {
		return 0, &MalformedBreakdownError{Histogram: "risk_levels", Sum: r.Total(), Frames: n}
	}

	total := float64(r.Safe)*Weights[models.RiskSafe] +
		float64(r.Moderate)*Weights[models.RiskModerate] +
		float64(r.High)*Weights[models.RiskHigh] +
		float64(r.Critical)*Weights[models.RiskCritical]
	score := total / float64(n)

	if float64(b.DensityStats.High)/float64(n) > HighDensityRatio {
		score *= HighDensityMultiplier
	}
	if float64(b.MotionStats.Chaotic)/float64(n) > ChaoticRatio {
		score *= ChaoticMultiplier
	}
	return clamp(round2(score)), nil
}

// VerdictFor maps a score onto the four-tier verdict table.
func VerdictFor(score float64) models.Verdict {
	switch {
	case score <= SafeUpperBound:
		return models.VerdictSafe
	case score <= WatchUpperBound:
		return models.VerdictWatch
	case score <= AlertUpperBound:
		return models.VerdictAlert
	default:
		return models.VerdictCritical
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	if v > MaxScore {
		return MaxScore
	}
	if v < 0 {
		return 0
	}
	return v
}
