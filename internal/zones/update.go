package zones

import (
	"fmt"
	"strings"

	"github.com/thebtf/crowdwatch/internal/risk"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// Update is the status digest of the latest session at a zone.
type Update struct {
	Zone          string         `json:"zone"`
	Description   string         `json:"description,omitempty"`
	SessionID     string         `json:"session_id"`
	OperatorName  string         `json:"operator_name"`
	Verdict       models.Verdict `json:"verdict"`
	StatusMessage string         `json:"status_message"`
	RiskScore     float64        `json:"risk_score"`
	FramesTotal   int            `json:"frames_analyzed"`
	FramesFlagged int            `json:"frames_flagged"`
	FlaggingRate  float64        `json:"flagging_rate"`
	HighDensity   int            `json:"high_density_events"`
	Chaotic       int            `json:"chaotic_motion_events"`
	Critical      int            `json:"critical_risk_events"`
	LastUpdated   string         `json:"last_updated"`
	Message       string         `json:"message"`
}

var statusMessages = map[models.Verdict]string{
	models.VerdictSafe:     "operating normally",
	models.VerdictWatch:    "under routine monitoring",
	models.VerdictAlert:    "requires attention",
	models.VerdictCritical: "IMMEDIATE ACTION REQUIRED",
}

// BuildUpdate summarizes s for zone. z may be nil for unregistered zones.
func BuildUpdate(zone string, z *Zone, s *models.Session) Update {
	verdict := risk.VerdictFor(s.RiskScore)
	last := s.LastAnalysis
	if last == "" {
		last = s.CreatedAt
	}
	u := Update{
		Zone:          zone,
		SessionID:     s.SessionID,
		OperatorName:  s.OperatorName,
		Verdict:       verdict,
		StatusMessage: statusMessages[verdict],
		RiskScore:     s.RiskScore,
		FramesTotal:   s.FramesAnalyzed,
		FramesFlagged: s.FramesFlagged,
		FlaggingRate:  s.FlaggingRate(),
		HighDensity:   s.AnalysisBreakdown.DensityStats.High,
		Chaotic:       s.AnalysisBreakdown.MotionStats.Chaotic,
		Critical:      s.AnalysisBreakdown.RiskLevels.Critical,
		LastUpdated:   last,
	}
	if z != nil {
		u.Description = z.Description
	}
	u.Message = renderUpdate(u)
	return u
}

func renderUpdate(u Update) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Security Update\n", u.Zone)
	if u.Description != "" {
		fmt.Fprintf(&sb, "%s\n", u.Description)
	}
	sb.WriteByte('\n')
	fmt.Fprintf(&sb, "Current Status: %s\n", u.Verdict)
	fmt.Fprintf(&sb, "Risk Score: %.2f%%\n", u.RiskScore)
	fmt.Fprintf(&sb, "Frames Analyzed: %d\n", u.FramesTotal)
	fmt.Fprintf(&sb, "Frames Flagged: %d (%.1f%%)\n", u.FramesFlagged, u.FlaggingRate)
	fmt.Fprintf(&sb, "Last Updated: %s\n", u.LastUpdated)
	fmt.Fprintf(&sb, "Operator: %s\n", u.OperatorName)
	fmt.Fprintf(&sb, "Session: %s\n", u.SessionID)
	sb.WriteString("\nAnalysis Details:\n")
	fmt.Fprintf(&sb, "- High Density Events: %d\n", u.HighDensity)
	fmt.Fprintf(&sb, "- Chaotic Motion Events: %d\n", u.Chaotic)
	fmt.Fprintf(&sb, "- Critical Risk Events: %d\n", u.Critical)
	fmt.Fprintf(&sb, "\nStatus: Zone is currently %s.", u.StatusMessage)
	return sb.String()
}
