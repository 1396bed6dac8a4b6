// Package alert decides when a session warrants a notification and renders
// and delivers the alert report.
package alert

import "github.com/thebtf/crowdwatch/pkg/models"

// Thresholds tune ShouldAlert.
type Thresholds struct {
	MinFrames      int     // no alert before this many frames
	Score          float64 // alert when risk_score reaches this
	CriticalFrames int     // alert when this many CRITICAL frames were seen
	BurstWindow    int     // number of most recent flagged frames inspected
	BurstSpan      int     // max frame-number spread of that window
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFrames:      5,
		Score:          70.0,
		CriticalFrames: 2,
		BurstWindow:    3,
		BurstSpan:      2,
	}
}

// Reason names the rule that fired.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonScore    Reason = "score"
	ReasonCritical Reason = "critical_frames"
	ReasonBurst    Reason = "rapid_escalation"
)

// ShouldAlert reports whether s should trigger its one alert.
func (t Thresholds) ShouldAlert(s *models.Session) bool {
	return t.Evaluate(s) != ReasonNone
}

// Evaluate returns the first rule that fires, or ReasonNone.
func (t Thresholds) Evaluate(s *models.Session) Reason {
	if s == nil || s.EmailSent {
		return ReasonNone
	}
	if s.FramesAnalyzed < t.MinFrames {
		return ReasonNone
	}
	if s.RiskScore >= t.Score {
		return ReasonScore
	}
	if s.AnalysisBreakdown.RiskLevels.Critical >= t.CriticalFrames {
		return ReasonCritical
	}
	if t.BurstWindow > 0 && len(s.FlaggedFrames) >= t.BurstWindow {
		recent := s.RecentFlagged(t.BurstWindow)
		if recent[len(recent)-1].FrameNumber-recent[0].FrameNumber <= t.BurstSpan {
			return ReasonBurst
		}
	}
	return ReasonNone
}
