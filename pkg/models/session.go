// Package models contains domain models for crowdwatch.
package models

import (
	"strings"
	"time"
)

// TimestampLayout is the wall-clock format used for every persisted timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// SessionStatus represents the lifecycle tag of a monitoring session.
type SessionStatus string

const (
	SessionStatusCreated SessionStatus = "created"
)

// Session is the durable record of one monitoring episode at a location.
// It is serialized as-is to the object store.
type Session struct {
	SessionID         string         `json:"session_id"`
	Location          string         `json:"location"`
	OperatorName      string         `json:"operator_name"`
	Status            SessionStatus  `json:"status"`
	CreatedAt         string         `json:"created_at"`
	FramesAnalyzed    int            `json:"frames_analyzed"`
	FramesFlagged     int            `json:"frames_flagged"`
	RiskScore         float64        `json:"risk_score"`
	LastAnalysis      string         `json:"last_analysis,omitempty"`
	AnalysisBreakdown Breakdown      `json:"analysis_breakdown"`
	FlaggedFrames     []FlaggedFrame `json:"flagged_frames"`
	EmailSent         bool           `json:"email_sent"`
}

// FlaggedFrame records one non-safe frame, in ingestion order.
type FlaggedFrame struct {
	FrameNumber int       `json:"frame_number"`
	Timestamp   string    `json:"timestamp"`
	Density     Density   `json:"density"`
	Motion      Motion    `json:"motion"`
	RiskLevel   RiskLevel `json:"risk_level"`
	StoragePath string    `json:"storage_path,omitempty"`
}

// NewSession returns a zeroed session record.
func NewSession(id, location, operator string, now time.Time) *Session {
	return &Session{
		SessionID:     id,
		Location:      location,
		OperatorName:  operator,
		Status:        SessionStatusCreated,
		CreatedAt:     FormatTimestamp(now),
		FlaggedFrames: []FlaggedFrame{},
	}
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.FlaggedFrames = make([]FlaggedFrame, len(s.FlaggedFrames))
	copy(c.FlaggedFrames, s.FlaggedFrames)
	return &c
}

// FlaggingRate is the percentage of analyzed frames that were flagged.
func (s *Session) FlaggingRate() float64 {
	if s.FramesAnalyzed == 0 {
		return 0
	}
	return float64(s.FramesFlagged) / float64(s.FramesAnalyzed) * 100
}

// RecentFlagged returns up to n of the most recently flagged frames, oldest first.
func (s *Session) RecentFlagged(n int) []FlaggedFrame {
	if n <= 0 || len(s.FlaggedFrames) == 0 {
		return nil
	}
	start := len(s.FlaggedFrames) - n
	if start < 0 {
		start = 0
	}
	return s.FlaggedFrames[start:]
}

// FrameAnalysis is the per-frame classifier output.
type FrameAnalysis struct {
	Density Density `json:"density"`
	Motion  Motion  `json:"motion"`
}

// CreateSessionResult is returned by session creation.
type CreateSessionResult struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Location  string        `json:"location"`
	CreatedAt string        `json:"created_at"`
}

// FrameAnalysisResult is returned for every ingested frame.
type FrameAnalysisResult struct {
	SessionID      string    `json:"session_id"`
	FrameNumber    int       `json:"frame_number"`
	Density        Density   `json:"density"`
	Motion         Motion    `json:"motion"`
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskScore      float64   `json:"risk_score"`
	FramesAnalyzed int       `json:"frames_analyzed"`
	FramesFlagged  int       `json:"frames_flagged"`
	Timestamp      string    `json:"timestamp"`
}

// SessionStatusView is the read-only projection served to callers.
type SessionStatusView struct {
	SessionID         string        `json:"session_id"`
	Location          string        `json:"location"`
	OperatorName      string        `json:"operator_name"`
	Status            SessionStatus `json:"status"`
	CreatedAt         string        `json:"created_at"`
	LastAnalysis      string        `json:"last_analysis,omitempty"`
	FramesAnalyzed    int           `json:"frames_analyzed"`
	FramesFlagged     int           `json:"frames_flagged"`
	RiskScore         float64       `json:"risk_score"`
	Verdict           Verdict       `json:"verdict"`
	AnalysisBreakdown Breakdown     `json:"analysis_breakdown"`
	AlertSent         bool          `json:"email_sent"`
}

// normalizeLabel trims whitespace and trailing punctuation a model tends to add.
func normalizeLabel(s string) string {
	return strings.Trim(strings.TrimSpace(s), ".!\"'` \t\r\n")
}
