package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/internal/notify"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// Dispatcher defaults.
const (
	DefaultPoolSize      = 4
	DefaultNotifyTimeout = 30 * time.Second
)

// Archive reads back what the session repository stored.
type Archive interface {
	LoadFrame(ctx context.Context, sessionID string, frameNumber int) ([]byte, error)
	SessionURI(sessionID string) string
}

// RecipientResolver returns extra recipients for a location.
type RecipientResolver interface {
	RecipientsFor(location string) []string
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	PoolSize     int
	Timeout      time.Duration
	RecentFrames int // flagged frames listed in the report
	AttachImages int // flagged images attached; negative disables
	IncludeGIF   bool
	Metrics      *metrics.Metrics
	Recipients   RecipientResolver
	Now          func() time.Time
}

// Dispatcher renders alert reports and delivers them on a bounded worker pool.
type Dispatcher struct {
	cfg      DispatcherConfig
	notifier notify.Notifier
	archive  Archive
	pool     *ants.PoolWithFunc
	wg       sync.WaitGroup
	closed   sync.Once
}

// NewDispatcher creates a dispatcher. The pool is non-blocking: when every
// worker is busy the alert is dropped and counted.
func NewDispatcher(n notify.Notifier, archive Archive, cfg DispatcherConfig) (*Dispatcher, error) {
	if n == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNotifyTimeout
	}
	if cfg.RecentFrames <= 0 {
		cfg.RecentFrames = ReportFlaggedFrames
	}
	if cfg.AttachImages == 0 {
		cfg.AttachImages = AttachedImages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	d := &Dispatcher{cfg: cfg, notifier: n, archive: archive}
	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(args any) {
		s, ok := args.(*models.Session)
		if !ok {
			panic("alert pool args type error")
		}
		defer d.wg.Done()
		d.deliver(s)
	}, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create alert pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

// Dispatch schedules delivery of an alert for s and returns immediately.
func (d *Dispatcher) Dispatch(s *models.Session) {
	d.wg.Add(1)
	if err := d.pool.Invoke(s); err != nil {
		d.wg.Done()
		d.cfg.Metrics.RecordAlertDropped(context.Background())
		log.Error().Err(err).
			Str("session_id", s.SessionID).
			Str("location", s.Location).
			Msg("Alert dropped: dispatch pool unavailable")
	}
}

// Close waits for in-flight alerts and releases the pool.
// Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closed.Do(func() {
		d.wg.Wait()
		d.pool.Release()
	})
}

// Running reports the number of alerts currently being delivered.
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

func (d *Dispatcher) deliver(s *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	msg := d.Build(ctx, s)
	err := d.notifier.Notify(ctx, msg)
	d.cfg.Metrics.RecordAlert(ctx, err)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", s.SessionID).
			Str("channel", d.notifier.Name()).
			Msg("Alert delivery failed")
		return
	}
	log.Info().
		Str("session_id", s.SessionID).
		Str("location", s.Location).
		Str("channel", d.notifier.Name()).
		Int("attachments", len(msg.Attachments)).
		Msg("Alert delivered")
}

// Build renders the notification message for s, fetching flagged images
// from the archive. Missing images are skipped.
func (d *Dispatcher) Build(ctx context.Context, s *models.Session) notify.Message {
	uri := ""
	if d.archive != nil {
		uri = d.archive.SessionURI(s.SessionID)
	}
	report := Render(s, models.FormatTimestamp(d.cfg.Now()), uri, d.cfg.RecentFrames)

	msg := notify.Message{
		Subject: report.Subject,
		Body:    report.Body,
		Metadata: map[string]string{
			"session_id": s.SessionID,
			"location":   s.Location,
			"risk_score": fmt.Sprintf("%.2f", s.RiskScore),
		},
	}
	if d.cfg.Recipients != nil {
		msg.Recipients = d.cfg.Recipients.RecipientsFor(s.Location)
	}
	if d.archive == nil {
		return msg
	}

	for _, f := range s.RecentFlagged(d.cfg.AttachImages) {
		data, err := d.archive.LoadFrame(ctx, s.SessionID, f.FrameNumber)
		if err != nil {
			log.Warn().Err(err).
				Str("session_id", s.SessionID).
				Int("frame", f.FrameNumber).
				Msg("Skipping alert attachment")
			continue
		}
		msg.Attachments = append(msg.Attachments, notify.Attachment{
			Name:        AttachmentName(f),
			ContentType: "image/jpeg",
			Data:        data,
		})
	}

	if d.cfg.IncludeGIF {
		d.attachSummary(ctx, s, &msg)
	}
	return msg
}

func (d *Dispatcher) attachSummary(ctx context.Context, s *models.Session, msg *notify.Message) {
	frames := make([][]byte, 0, len(s.FlaggedFrames))
	for _, f := range s.FlaggedFrames {
		data, err := d.archive.LoadFrame(ctx, s.SessionID, f.FrameNumber)
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	if len(frames) == 0 {
		return
	}
	gifData, err := SummaryGIF(frames)
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.SessionID).Msg("Failed to render summary gif")
		return
	}
	msg.Attachments = append(msg.Attachments, notify.Attachment{
		Name:        "summary.gif",
		ContentType: "image/gif",
		Data:        gifData,
	})
}
