// Package metrics records crowdwatch counters as OpenTelemetry instruments
// and keeps an in-process snapshot for the status endpoint.
package metrics

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/crowdwatch"

// Metrics tracks ingest, classifier and alert statistics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	startTime time.Time

	framesIngested     metric.Int64Counter
	framesFlagged      metric.Int64Counter
	classifierFailures metric.Int64Counter
	alertsDispatched   metric.Int64Counter
	alertsFailed       metric.Int64Counter
	alertsDropped      metric.Int64Counter
	ingestLatency      metric.Float64Histogram

	totalFrames      atomic.Int64
	totalFlagged     atomic.Int64
	totalFailures    atomic.Int64
	totalDispatched  atomic.Int64
	totalAlertFailed atomic.Int64
	totalDropped     atomic.Int64
	totalLatency     atomic.Int64 // microseconds
	sessionsCreated  atomic.Int64
}

// New creates instruments on the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.GetMeterProvider().Meter(meterName))
}

// NewWithMeter creates instruments on meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{startTime: time.Now()}

	var err error
	if m.framesIngested, err = meter.Int64Counter(
		"crowdwatch.frames.ingested",
		metric.WithDescription("Frames classified and folded into a session"),
	); err != nil {
		return nil, fmt.Errorf("frames ingested counter: %w", err)
	}
	if m.framesFlagged, err = meter.Int64Counter(
		"crowdwatch.frames.flagged",
		metric.WithDescription("Frames with a non-safe risk level"),
	); err != nil {
		return nil, fmt.Errorf("frames flagged counter: %w", err)
	}
	if m.classifierFailures, err = meter.Int64Counter(
		"crowdwatch.classifier.failures",
		metric.WithDescription("Inference calls that collapsed to Unknown"),
	); err != nil {
		return nil, fmt.Errorf("classifier failures counter: %w", err)
	}
	if m.alertsDispatched, err = meter.Int64Counter(
		"crowdwatch.alerts.dispatched",
		metric.WithDescription("Alert reports delivered"),
	); err != nil {
		return nil, fmt.Errorf("alerts dispatched counter: %w", err)
	}
	if m.alertsFailed, err = meter.Int64Counter(
		"crowdwatch.alerts.failed",
		metric.WithDescription("Alert reports that failed to deliver"),
	); err != nil {
		return nil, fmt.Errorf("alerts failed counter: %w", err)
	}
	if m.alertsDropped, err = meter.Int64Counter(
		"crowdwatch.alerts.dropped",
		metric.WithDescription("Alerts not scheduled because the dispatch pool was full or closed"),
	); err != nil {
		return nil, fmt.Errorf("alerts dropped counter: %w", err)
	}
	if m.ingestLatency, err = meter.Float64Histogram(
		"crowdwatch.ingest.duration",
		metric.WithDescription("Frame ingest duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("ingest latency histogram: %w", err)
	}
	return m, nil
}

// RecordSessionCreated counts a new session.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Add(1)
}

// RecordFrame records one ingested frame and its risk level.
func (m *Metrics) RecordFrame(ctx context.Context, riskLevel string, flagged bool, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("risk_level", riskLevel))
	m.framesIngested.Add(ctx, 1, attrs)
	m.totalFrames.Add(1)
	if flagged {
		m.framesFlagged.Add(ctx, 1, attrs)
		m.totalFlagged.Add(1)
	}
	m.ingestLatency.Record(ctx, latency.Seconds())
	m.totalLatency.Add(latency.Microseconds())
}

// RecordClassifierFailure records an inference call that fell back to Unknown.
// attr is "density" or "motion".
func (m *Metrics) RecordClassifierFailure(ctx context.Context, attr string) {
	if m == nil {
		return
	}
	m.classifierFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("attribute", attr)))
	m.totalFailures.Add(1)
}

// RecordAlert records the outcome of one dispatch.
func (m *Metrics) RecordAlert(ctx context.Context, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.alertsFailed.Add(ctx, 1)
		m.totalAlertFailed.Add(1)
		return
	}
	m.alertsDispatched.Add(ctx, 1)
	m.totalDispatched.Add(1)
}

// RecordAlertDropped records an alert the pool refused.
func (m *Metrics) RecordAlertDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.alertsDropped.Add(ctx, 1)
	m.totalDropped.Add(1)
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime             string  `json:"uptime"`
	SessionsCreated    int64   `json:"sessions_created"`
	FramesIngested     int64   `json:"frames_ingested"`
	FramesFlagged      int64   `json:"frames_flagged"`
	ClassifierFailures int64   `json:"classifier_failures"`
	AlertsDispatched   int64   `json:"alerts_dispatched"`
	AlertsFailed       int64   `json:"alerts_failed"`
	AlertsDropped      int64   `json:"alerts_dropped"`
	AvgIngestMs        float64 `json:"avg_ingest_ms"`
}

// GetSnapshot returns the current counters.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	frames := m.totalFrames.Load()
	snap := Snapshot{
		Uptime:             time.Since(m.startTime).Round(time.Second).String(),
		SessionsCreated:    m.sessionsCreated.Load(),
		FramesIngested:     frames,
		FramesFlagged:      m.totalFlagged.Load(),
		ClassifierFailures: m.totalFailures.Load(),
		AlertsDispatched:   m.totalDispatched.Load(),
		AlertsFailed:       m.totalAlertFailed.Load(),
		AlertsDropped:      m.totalDropped.Load(),
	}
	if frames > 0 {
		snap.AvgIngestMs = float64(m.totalLatency.Load()) / float64(frames) / 1000
	}
	return snap
}
