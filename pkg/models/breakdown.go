package models

import "strings"

// Density is the coarse crowd-packing class of a frame.
type Density string

const (
	DensityLow     Density = "Low"
	DensityMedium  Density = "Medium"
	DensityHigh    Density = "High"
	DensityUnknown Density = "Unknown"
)

// Motion is the coarse panic-behavior class of a frame.
type Motion string

const (
	MotionCalm    Motion = "Calm"
	MotionChaotic Motion = "Chaotic"
	MotionUnknown Motion = "Unknown"
)

// RiskLevel is the per-frame severity tag.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Flagged reports whether the level is anything other than SAFE.
func (r RiskLevel) Flagged() bool {
	return r != RiskSafe
}

// Verdict is the session-level summary tag derived from the risk score.
type Verdict string

const (
	VerdictSafe     Verdict = "SAFE"
	VerdictWatch    Verdict = "WATCH"
	VerdictAlert    Verdict = "ALERT"
	VerdictCritical Verdict = "CRITICAL"
)

// ParseDensity maps free model text onto Density, case-insensitively.
// Anything unrecognized is DensityUnknown.
func ParseDensity(text string) Density {
	switch strings.ToLower(normalizeLabel(text)) {
	case "low":
		return DensityLow
	case "medium":
		return DensityMedium
	case "high":
		return DensityHigh
	default:
		return DensityUnknown
	}
}

// ParseMotion maps free model text onto Motion, case-insensitively.
// Anything unrecognized is MotionUnknown.
func ParseMotion(text string) Motion {
	switch strings.ToLower(normalizeLabel(text)) {
	case "calm":
		return MotionCalm
	case "chaotic":
		return MotionChaotic
	default:
		return MotionUnknown
	}
}

// Breakdown holds the per-attribute frame histograms of a session.
// Every sub-histogram sums to the session's frames_analyzed.
type Breakdown struct {
	DensityStats DensityStats `json:"density_stats"`
	MotionStats  MotionStats  `json:"motion_stats"`
	RiskLevels   RiskStats    `json:"risk_levels"`
}

// Record counts one frame in each histogram.
func (b *Breakdown) Record(d Density, m Motion, r RiskLevel) {
	b.DensityStats.Add(d)
	b.MotionStats.Add(m)
	b.RiskLevels.Add(r)
}

// DensityStats counts frames per density class.
type DensityStats struct {
	Low     int `json:"Low"`
	Medium  int `json:"Medium"`
	High    int `json:"High"`
	Unknown int `json:"Unknown"`
}

// Add increments the bucket for d. Unrecognized values land in Unknown.
func (s *DensityStats) Add(d Density) {
	switch d {
	case DensityLow:
		s.Low++
	case DensityMedium:
		s.Medium++
	case DensityHigh:
		s.High++
	default:
		s.Unknown++
	}
}

// Total sums all buckets.
func (s DensityStats) Total() int {
	return s.Low + s.Medium + s.High + s.Unknown
}

// MotionStats counts frames per motion class.
type MotionStats struct {
	Calm    int `json:"Calm"`
	Chaotic int `json:"Chaotic"`
	Unknown int `json:"Unknown"`
}

// Add increments the bucket for m. Unrecognized values land in Unknown.
func (s *MotionStats) Add(m Motion) {
	switch m {
	case MotionCalm:
		s.Calm++
	case MotionChaotic:
		s.Chaotic++
	default:
		s.Unknown++
	}
}

// Total sums all buckets.
func (s MotionStats) Total() int {
	return s.Calm + s.Chaotic + s.Unknown
}

// RiskStats counts frames per risk level.
type RiskStats struct {
	Safe     int `json:"SAFE"`
	Moderate int `json:"MODERATE"`
	High     int `json:"HIGH"`
	Critical int `json:"CRITICAL"`
}

// Add increments the bucket for r. Unrecognized values count as SAFE.
func (s *RiskStats) Add(r RiskLevel) {
	switch r {
	case RiskModerate:
		s.Moderate++
	case RiskHigh:
		s.High++
	case RiskCritical:
		s.Critical++
	default:
		s.Safe++
	}
}

// Count returns the bucket for r.
func (s RiskStats) Count(r RiskLevel) int {
	switch r {
	case RiskSafe:
		return s.Safe
	case RiskModerate:
		return s.Moderate
	case RiskHigh:
		return s.High
	case RiskCritical:
		return s.Critical
	}
	return 0
}

// Total sums all buckets.
func (s RiskStats) Total() int {
	return s.Safe + s.Moderate + s.High + s.Critical
}

// Flagged sums every non-safe bucket.
func (s RiskStats) Flagged() int {
	return s.Moderate + s.High + s.Critical
}
