package alert

import (
	"fmt"
	"strings"

	"github.com/thebtf/crowdwatch/internal/risk"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// Report sizing.
const (
	ReportFlaggedFrames = 5 // flagged frames listed in the body
	AttachedImages      = 3 // flagged images attached
)

// Report is the rendered alert.
type Report struct {
	Subject string
	Body    string
}

// Subject renders the alert subject line.
func Subject(s *models.Session) string {
	return fmt.Sprintf("CROWD SAFETY ALERT - %s (Session %s)", s.Location, s.SessionID)
}

// Render builds the plain-text report for s, listing up to recent flagged
// frames. alertTime is a formatted timestamp and sessionURI locates the
// stored session record.
func Render(s *models.Session, alertTime, sessionURI string, recent int) Report {
	b := s.AnalysisBreakdown
	var sb strings.Builder

	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}

	line("CROWD SAFETY ALERT")
	line("")
	line("Location:    %s", s.Location)
	line("Operator:    %s", s.OperatorName)
	line("Session ID:  %s", s.SessionID)
	line("Verdict:     %s", risk.VerdictFor(s.RiskScore))
	line("Risk Score:  %.2f%%", s.RiskScore)
	line("Alert Time:  %s", alertTime)
	line("")
	line("ANALYSIS SUMMARY:")
	line("|-- Total Frames Analyzed: %d", s.FramesAnalyzed)
	line("|-- Flagged Frames: %d", s.FramesFlagged)
	line("`-- Flagging Rate: %.1f%%", s.FlaggingRate())
	line("")
	line("CROWD DENSITY BREAKDOWN:")
	line("|-- High Density: %d frames", b.DensityStats.High)
	line("|-- Medium Density: %d frames", b.DensityStats.Medium)
	line("|-- Low Density: %d frames", b.DensityStats.Low)
	line("`-- Unknown: %d frames", b.DensityStats.Unknown)
	line("")
	line("CROWD MOTION BREAKDOWN:")
	line("|-- Chaotic Motion: %d frames", b.MotionStats.Chaotic)
	line("|-- Calm Motion: %d frames", b.MotionStats.Calm)
	line("`-- Unknown: %d frames", b.MotionStats.Unknown)
	line("")
	line("RISK LEVEL BREAKDOWN:")
	line("|-- CRITICAL: %d frames", b.RiskLevels.Critical)
	line("|-- HIGH: %d frames", b.RiskLevels.High)
	line("|-- MODERATE: %d frames", b.RiskLevels.Moderate)
	line("`-- SAFE: %d frames", b.RiskLevels.Safe)
	line("")

	if frames := s.RecentFlagged(recent); len(frames) > 0 {
		line("FLAGGED FRAME DETAILS:")
		for i, f := range frames {
			line("%d. Frame %d: %s (Density: %s, Motion: %s) @ %s",
				i+1, f.FrameNumber, f.RiskLevel, f.Density, f.Motion, f.Timestamp)
		}
		line("")
	}

	line("IMMEDIATE ACTION REQUIRED!")
	line("")
	line("Please investigate the situation immediately and take appropriate crowd control measures.")
	line("")
	line("Session Data: %s", sessionURI)

	return Report{Subject: Subject(s), Body: sb.String()}
}

// AttachmentName names a flagged frame image attachment.
func AttachmentName(f models.FlaggedFrame) string {
	level := string(f.RiskLevel)
	if level == "" {
		level = "FLAGGED"
	}
	return fmt.Sprintf("%s_frame_%03d.jpg", level, f.FrameNumber)
}
