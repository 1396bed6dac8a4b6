package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/crowdwatch/internal/alert"
	"github.com/thebtf/crowdwatch/internal/classifier"
	"github.com/thebtf/crowdwatch/internal/config"
	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/internal/watcher"
	"github.com/thebtf/crowdwatch/internal/worker"
	"github.com/thebtf/crowdwatch/internal/worker/session"
	"github.com/thebtf/crowdwatch/internal/zones"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.WorkerPort = port
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Worker port (overrides CROWDWATCH_WORKER_PORT)")
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	inference, err := openInference(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s inference backend: %w", cfg.InferenceBackend, err)
	}

	mt, err := metrics.New()
	if err != nil {
		log.Warn().Err(err).Msg("Metrics unavailable")
		mt = nil
	}

	zoneHolder, err := zones.NewHolder(config.ZonesPath())
	if err != nil {
		log.Warn().Err(err).Str("path", config.ZonesPath()).Msg("Failed to load zone registry, continuing without zones")
		zoneHolder = &zones.Holder{}
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	repo := session.NewRepository(store)
	dispatcher, err := alert.NewDispatcher(notifier, repo, alert.DispatcherConfig{
		PoolSize:     cfg.DispatchPoolSize,
		Timeout:      time.Duration(cfg.NotifyTimeout) * time.Second,
		RecentFrames: cfg.ReportRecentFrames,
		AttachImages: attachLimit(cfg.ReportAttachments),
		IncludeGIF:   cfg.ReportGIF,
		Metrics:      mt,
		Recipients:   zoneHolder,
	})
	if err != nil {
		return fmt.Errorf("create alert dispatcher: %w", err)
	}
	defer dispatcher.Close()

	thresholds := alert.DefaultThresholds()
	thresholds.MinFrames = cfg.AlertMinFrames
	thresholds.Score = cfg.AlertScoreThreshold
	thresholds.CriticalFrames = cfg.AlertCriticalFrames

	manager := session.NewManager(repo,
		classifier.New(inference,
			classifier.WithTimeout(time.Duration(cfg.InferenceTimeout)*time.Second),
			classifier.WithMetrics(mt),
		),
		dispatcher,
		session.WithThresholds(thresholds),
		session.WithMetrics(mt),
	)

	svc, err := worker.NewService(worker.Deps{
		Version:          Version,
		Config:           cfg,
		Store:            store,
		Manager:          manager,
		Zones:            zoneHolder,
		Metrics:          mt,
		InferenceBackend: inference.Name(),
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if zw := watchZones(zoneHolder); zw != nil {
		defer zw.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("Shutting down worker")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Unclean shutdown")
	}
	return <-errCh
}

// attachLimit maps the configured attachment count onto the dispatcher's
// convention, where zero means the default and negative disables.
func attachLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}

// watchZones reloads the zone registry when zones.yaml changes.
func watchZones(h *zones.Holder) *watcher.Watcher {
	if h.Path() == "" {
		return nil
	}
	w, err := watcher.New(h.Path(), func() {
		if err := h.Reload(); err != nil {
			log.Warn().Err(err).Str("path", h.Path()).Msg("Zone registry reload failed, keeping previous")
			return
		}
		log.Info().Str("path", h.Path()).Int("zones", len(h.Registry().Names())).Msg("Zone registry reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create zone watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start zone watcher")
		return nil
	}
	log.Info().Str("path", h.Path()).Msg("Zone file watcher started")
	return w
}
