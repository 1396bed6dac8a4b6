// Package classifier turns a camera frame into a (density, motion) pair by
// asking a vision model two independent questions.
package classifier

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// DefaultTimeout bounds a single inference call.
const DefaultTimeout = 30 * time.Second

// Inference answers a text prompt about an image.
type Inference interface {
	Ask(ctx context.Context, image []byte, prompt string) (string, error)
	// Name identifies the backend for logs and status output.
	Name() string
}

// Classifier fans the density and motion prompts out to an Inference backend.
type Classifier struct {
	inference Inference
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records failed calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// New creates a Classifier.
func New(inference Inference, opts ...Option) *Classifier {
	c := &Classifier{inference: inference, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Backend returns the inference backend name.
func (c *Classifier) Backend() string {
	return c.inference.Name()
}

// Classify never fails: a call that errors, times out or answers outside the
// closed label set yields Unknown for that attribute only.
func (c *Classifier) Classify(ctx context.Context, image []byte) models.FrameAnalysis {
	var (
		result models.FrameAnalysis
		g      errgroup.Group
	)

	g.Go(func() error {
		result.Density = models.DensityUnknown
		text, err := c.ask(ctx, image, DensityPrompt)
		if err != nil {
			c.recordFailure(ctx, "density", err)
			return nil
		}
		result.Density = models.ParseDensity(text)
		if result.Density == models.DensityUnknown {
			c.recordFailure(ctx, "density", &InvalidLabelError{Attribute: "density", Text: text})
		}
		return nil
	})

	g.Go(func() error {
		result.Motion = models.MotionUnknown
		text, err := c.ask(ctx, image, MotionPrompt)
		if err != nil {
			c.recordFailure(ctx, "motion", err)
			return nil
		}
		result.Motion = models.ParseMotion(text)
		if result.Motion == models.MotionUnknown {
			c.recordFailure(ctx, "motion", &InvalidLabelError{Attribute: "motion", Text: text})
		}
		return nil
	})

	_ = g.Wait()
	return result
}

func (c *Classifier) ask(ctx context.Context, image []byte, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inference.Ask(callCtx, image, prompt)
}

func (c *Classifier) recordFailure(ctx context.Context, attr string, err error) {
	log.Warn().
		Err(err).
		Str("attribute", attr).
		Str("backend", c.inference.Name()).
		Msg("Inference call collapsed to Unknown")
	c.metrics.RecordClassifierFailure(ctx, attr)
}
