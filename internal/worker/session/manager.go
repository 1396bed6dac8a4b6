// Package session owns the monitoring session lifecycle: creation, per-frame
// risk accumulation under a per-session lock, and the one-shot alert latch.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/crowdwatch/internal/alert"
	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/internal/risk"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// Defaults applied when create requests leave fields empty.
const (
	DefaultLocation = "Mela Zone B"
	DefaultOperator = "Security Team"
)

const idAttempts = 3

// PersistTimeout bounds a session or frame write. Writes are detached from
// the request so a cancelled caller cannot drop the alert latch.
const PersistTimeout = 10 * time.Second

// FrameClassifier labels a frame. It must not fail; degraded answers are Unknown.
type FrameClassifier interface {
	Classify(ctx context.Context, image []byte) models.FrameAnalysis
}

// Dispatcher delivers an alert out of band. It must not block on delivery.
type Dispatcher interface {
	Dispatch(s *models.Session)
}

// Manager coordinates session state changes.
type Manager struct {
	repo       *Repository
	classifier FrameClassifier
	dispatcher Dispatcher
	thresholds alert.Thresholds
	metrics    *metrics.Metrics
	locks      *keyedMutex

	// live holds the newest record of every session this process touched.
	// Entries are replaced, never mutated, and only under the session lock.
	liveMu sync.RWMutex
	live   map[string]*models.Session

	now   func() time.Time
	newID func() string

	callbackMu      sync.RWMutex
	onFrameAnalyzed func(result models.FrameAnalysisResult)
	onAlert         func(s *models.Session)
}

// Option configures a Manager.
type Option func(*Manager)

// WithThresholds overrides the alert thresholds.
func WithThresholds(t alert.Thresholds) Option {
	return func(m *Manager) { m.thresholds = t }
}

// WithMetrics records ingest statistics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the random session id source.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// NewManager creates a session manager.
func NewManager(repo *Repository, classifier FrameClassifier, dispatcher Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		repo:       repo,
		classifier: classifier,
		dispatcher: dispatcher,
		thresholds: alert.DefaultThresholds(),
		locks:      newKeyedMutex(),
		live:       make(map[string]*models.Session),
		now:        time.Now,
		newID:      func() string { return uuid.New().String()[:8] },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Repository returns the backing repository.
func (m *Manager) Repository() *Repository {
	return m.repo
}

// SetOnFrameAnalyzed sets the callback for every ingested frame.
func (m *Manager) SetOnFrameAnalyzed(fn func(result models.FrameAnalysisResult)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onFrameAnalyzed = fn
}

// SetOnAlert sets the callback fired when a session's alert latch is set.
func (m *Manager) SetOnAlert(fn func(s *models.Session)) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.onAlert = fn
}

// CreateSession allocates and persists a new session.
func (m *Manager) CreateSession(ctx context.Context, location, operator string) (*models.CreateSessionResult, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		location = DefaultLocation
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		operator = DefaultOperator
	}

	id, err := m.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	s := models.NewSession(id, location, operator, m.now())
	if err := m.repo.Save(ctx, s); err != nil {
		return nil, err
	}
	m.remember(s)
	m.metrics.RecordSessionCreated()

	log.Info().
		Str("session_id", id).
		Str("location", location).
		Str("operator", operator).
		Msg("Session created")

	return &models.CreateSessionResult{
		SessionID: s.SessionID,
		Status:    s.Status,
		Location:  s.Location,
		CreatedAt: s.CreatedAt,
	}, nil
}

func (m *Manager) allocateID(ctx context.Context) (string, error) {
	for range idAttempts {
		id := m.newID()
		exists, err := m.repo.store.Exists(ctx, objstore.SessionKey(id))
		if err != nil {
			return "", fmt.Errorf("check session id: %w", err)
		}
		if !exists {
			return id, nil
		}
		log.Warn().Str("session_id", id).Msg("Session id collision, retrying")
	}
	return "", fmt.Errorf("could not allocate a unique session id after %d attempts", idAttempts)
}

// IngestFrame classifies one frame and folds it into the session.
// Calls for the same session are serialized.
func (m *Manager) IngestFrame(ctx context.Context, sessionID string, image []byte) (*models.FrameAnalysisResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidInput)
	}
	start := time.Now()

	unlock, err := m.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}

	result, alerted, err := m.ingestLocked(ctx, sessionID, image)
	unlock()
	if err != nil {
		return nil, err
	}

	m.metrics.RecordFrame(ctx, string(result.RiskLevel), result.RiskLevel.Flagged(), time.Since(start))

	m.callbackMu.RLock()
	onFrame, onAlert := m.onFrameAnalyzed, m.onAlert
	m.callbackMu.RUnlock()
	if onFrame != nil {
		onFrame(*result)
	}
	if alerted != nil && onAlert != nil {
		onAlert(alerted)
	}
	return result, nil
}

// ingestLocked runs with the session lock held. It returns the snapshot
// handed to the dispatcher when the latch was set by this frame.
func (m *Manager) ingestLocked(ctx context.Context, sessionID string, image []byte) (*models.FrameAnalysisResult, *models.Session, error) {
	s, err := m.current(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session")
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotFound, sessionID, err)
	}

	analysis := m.classifier.Classify(ctx, image)
	level := risk.Classify(analysis.Density, analysis.Motion)
	now := models.FormatTimestamp(m.now())

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PersistTimeout)
	defer cancel()

	s.FramesAnalyzed++
	frameNumber := s.FramesAnalyzed
	s.AnalysisBreakdown.Record(analysis.Density, analysis.Motion, level)

	if level.Flagged() {
		s.FramesFlagged++
		flagged := models.FlaggedFrame{
			FrameNumber: frameNumber,
			Timestamp:   now,
			Density:     analysis.Density,
			Motion:      analysis.Motion,
			RiskLevel:   level,
		}
		path, err := m.repo.SaveFrame(persistCtx, sessionID, frameNumber, image)
		if err != nil {
			log.Warn().Err(err).
				Str("session_id", sessionID).
				Int("frame", frameNumber).
				Msg("Failed to store flagged frame image")
		} else {
			flagged.StoragePath = path
		}
		s.FlaggedFrames = append(s.FlaggedFrames, flagged)
	}

	s.RiskScore = risk.Score(s.AnalysisBreakdown, s.FramesAnalyzed, s.FramesFlagged)
	s.LastAnalysis = now

	reason := m.thresholds.Evaluate(s)
	if reason != alert.ReasonNone {
		s.EmailSent = true
	}

	// The in-process record is authoritative for this session from here on,
	// whether or not the store accepts the write.
	m.remember(s)
	if err := m.repo.Save(persistCtx, s); err != nil {
		log.Error().Err(err).
			Str("session_id", sessionID).
			Int("frame", frameNumber).
			Bool("email_sent", s.EmailSent).
			Msg("Failed to persist session update")
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("frame", frameNumber).
		Str("density", string(analysis.Density)).
		Str("motion", string(analysis.Motion)).
		Str("risk_level", string(level)).
		Float64("risk_score", s.RiskScore).
		Msg("Frame analyzed")

	var alerted *models.Session
	if reason != alert.ReasonNone {
		alerted = s.Clone()
		log.Warn().
			Str("session_id", sessionID).
			Str("location", s.Location).
			Str("reason", string(reason)).
			Float64("risk_score", s.RiskScore).
			Msg("Alert triggered")
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(s.Clone())
		}
	}

	return &models.FrameAnalysisResult{
		SessionID:      sessionID,
		FrameNumber:    frameNumber,
		Density:        analysis.Density,
		Motion:         analysis.Motion,
		RiskLevel:      level,
		RiskScore:      s.RiskScore,
		FramesAnalyzed: s.FramesAnalyzed,
		FramesFlagged:  s.FramesFlagged,
		Timestamp:      now,
	}, alerted, nil
}

// current returns a private copy of the newest record of a session,
// falling back to the store for sessions this process has not seen.
func (m *Manager) current(ctx context.Context, sessionID string) (*models.Session, error) {
	m.liveMu.RLock()
	s, ok := m.live[sessionID]
	m.liveMu.RUnlock()
	if ok {
		return s.Clone(), nil
	}
	return m.repo.Load(ctx, sessionID)
}

// remember publishes a snapshot of s as the session's newest record.
func (m *Manager) remember(s *models.Session) {
	snap := s.Clone()
	m.liveMu.Lock()
	m.live[snap.SessionID] = snap
	m.liveMu.Unlock()
}

// overlay replaces stored records with newer in-process ones and adds
// sessions the store never received.
func (m *Manager) overlay(stored []*models.Session) []*models.Session {
	m.liveMu.RLock()
	defer m.liveMu.RUnlock()

	seen := make(map[string]bool, len(stored))
	out := make([]*models.Session, 0, len(stored)+len(m.live))
	for _, s := range stored {
		seen[s.SessionID] = true
		if live, ok := m.live[s.SessionID]; ok {
			s = live.Clone()
		}
		out = append(out, s)
	}
	for id, s := range m.live {
		if !seen[id] {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// GetSession returns the read-only view of a session.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*models.SessionStatusView, error) {
	s, err := m.current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return View(s), nil
}

// LatestSession returns the most recently analyzed session at location.
func (m *Manager) LatestSession(ctx context.Context, location string) (*models.Session, error) {
	sessions, err := m.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	return latestAt(sessions, location)
}

// ListSessions returns every known session, preferring in-process records
// over stored ones.
func (m *Manager) ListSessions(ctx context.Context) ([]*models.Session, error) {
	stored, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return m.overlay(stored), nil
}

// View projects a session into its status view.
func View(s *models.Session) *models.SessionStatusView {
	return &models.SessionStatusView{
		SessionID:         s.SessionID,
		Location:          s.Location,
		OperatorName:      s.OperatorName,
		Status:            s.Status,
		CreatedAt:         s.CreatedAt,
		LastAnalysis:      s.LastAnalysis,
		FramesAnalyzed:    s.FramesAnalyzed,
		FramesFlagged:     s.FramesFlagged,
		RiskScore:         s.RiskScore,
		Verdict:           risk.VerdictFor(s.RiskScore),
		AnalysisBreakdown: s.AnalysisBreakdown,
		AlertSent:         s.EmailSent,
	}
}
