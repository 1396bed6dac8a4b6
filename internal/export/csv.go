// Package export flattens stored sessions into tabular form.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/thebtf/crowdwatch/pkg/models"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"session_id", "location", "operator_name", "status", "created_at", "last_analysis",
	"frames_analyzed", "frames_flagged", "risk_score", "email_sent", "flagged_frame_count",
	"density_low", "density_medium", "density_high", "density_unknown",
	"motion_calm", "motion_chaotic", "motion_unknown",
	"risk_safe", "risk_moderate", "risk_high", "risk_critical",
}

// Row flattens one session, breakdown histograms included.
func Row(s *models.Session) []string {
	b := s.AnalysisBreakdown
	itoa := strconv.Itoa
	return []string{
		s.SessionID,
		s.Location,
		s.OperatorName,
		string(s.Status),
		s.CreatedAt,
		s.LastAnalysis,
		itoa(s.FramesAnalyzed),
		itoa(s.FramesFlagged),
		strconv.FormatFloat(s.RiskScore, 'f', 2, 64),
		strconv.FormatBool(s.EmailSent),
		itoa(len(s.FlaggedFrames)),
		itoa(b.DensityStats.Low),
		itoa(b.DensityStats.Medium),
		itoa(b.DensityStats.High),
		itoa(b.DensityStats.Unknown),
		itoa(b.MotionStats.Calm),
		itoa(b.MotionStats.Chaotic),
		itoa(b.MotionStats.Unknown),
		itoa(b.RiskLevels.Safe),
		itoa(b.RiskLevels.Moderate),
		itoa(b.RiskLevels.High),
		itoa(b.RiskLevels.Critical),
	}
}

// WriteCSV writes a header and one row per session, ordered by created_at
// then session id.
func WriteCSV(w io.Writer, sessions []*models.Session) error {
	sorted := make([]*models.Session, len(sessions))
	copy(sorted, sessions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].SessionID < sorted[j].SessionID
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, s := range sorted {
		if err := cw.Write(Row(s)); err != nil {
			return fmt.Errorf("write csv row %s: %w", s.SessionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
