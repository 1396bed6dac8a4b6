// Package worker provides the crowdwatch HTTP and gRPC service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/thebtf/crowdwatch/internal/config"
	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/internal/worker/session"
	"github.com/thebtf/crowdwatch/internal/worker/sse"
	"github.com/thebtf/crowdwatch/internal/zones"
	"github.com/thebtf/crowdwatch/pkg/models"
)

// healthProbeInterval is how often the store is pinged for the gRPC health status.
const healthProbeInterval = 15 * time.Second

// Deps are the collaborators a Service is built from.
type Deps struct {
	Version          string
	Config           *config.Config
	Store            objstore.Store
	Manager          *session.Manager
	Zones            *zones.Holder
	Metrics          *metrics.Metrics
	InferenceBackend string
}

// Service is the crowdwatch worker.
type Service struct {
	version          string
	config           *config.Config
	store            objstore.Store
	sessionManager   *session.Manager
	sseBroadcaster   *sse.Broadcaster
	zones            *zones.Holder
	metrics          *metrics.Metrics
	inferenceBackend string

	router     chi.Router
	health     *health.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	listener   net.Listener

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
	ready     atomic.Bool
}

// NewService wires a Service and its routes. It does not start listening.
func NewService(d Deps) (*Service, error) {
	if d.Manager == nil || d.Store == nil {
		return nil, errors.New("session manager and store are required")
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Zones == nil {
		d.Zones = &zones.Holder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		version:          d.Version,
		config:           d.Config,
		store:            d.Store,
		sessionManager:   d.Manager,
		sseBroadcaster:   sse.NewBroadcaster(),
		zones:            d.Zones,
		metrics:          d.Metrics,
		inferenceBackend: d.InferenceBackend,
		router:           chi.NewRouter(),
		health:           health.NewServer(),
		ctx:              ctx,
		cancel:           cancel,
		startTime:        time.Now(),
	}

	svc.sessionManager.SetOnFrameAnalyzed(func(result models.FrameAnalysisResult) {
		svc.sseBroadcaster.Publish(sse.EventFrameAnalyzed, result)
	})
	svc.sessionManager.SetOnAlert(func(s *models.Session) {
		svc.sseBroadcaster.Publish(sse.EventAlertTriggered, session.View(s))
	})

	svc.setupRoutes()

	svc.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(svc.grpcServer, svc.health)
	svc.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return svc, nil
}

// Router exposes the HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start listens on the configured address, serving HTTP and gRPC on one port.
func (s *Service) Start() error {
	addr := net.JoinHostPort(s.config.WorkerHost, strconv.Itoa(s.config.WorkerPort))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Serve runs the service on l until Shutdown.
func (s *Service) Serve(l net.Listener) error {
	s.listener = l
	mux := cmux.New(l)
	grpcL := mux.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := mux.Match(cmux.Any())

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(grpcL); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("gRPC server stopped")
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosedErr(err) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.probeHealth()
	}()

	s.updateHealth()
	s.ready.Store(true)
	log.Info().
		Str("addr", l.Addr().String()).
		Str("store", s.store.Name()).
		Str("inference", s.inferenceBackend).
		Str("version", s.version).
		Msg("Worker listening")

	if err := mux.Serve(); err != nil && !isClosedErr(err) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.health.Shutdown()
	s.cancel()

	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !isClosedErr(err) {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Service) probeHealth() {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.updateHealth()
		}
	}
}

func (s *Service) updateHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pingStore(s.ctx); err != nil {
		log.Warn().Err(err).Str("store", s.store.Name()).Msg("Object store unreachable")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}

func (s *Service) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.store.Ping(ctx)
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, grpc.ErrServerStopped)
}
