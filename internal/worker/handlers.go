package worker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/internal/worker/session"
	"github.com/thebtf/crowdwatch/internal/zones"
)

// Multipart field names accepted for frame uploads, in order of preference.
var frameFields = []string{"frame", "image", "file"}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Get("/api/version", s.handleVersion)

	// The live feed is long-lived and must not sit behind the request timeout.
	r.Get("/api/stream", s.sseBroadcaster.HandleSSE)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(time.Duration(s.config.RequestTimeout) * time.Second))
		r.Use(s.requireReady)

		r.Post("/api/session/create", s.handleCreateSession)
		r.Post("/api/session/{id}/frame", s.handleIngestFrame)
		r.Get("/api/session/{id}", s.handleGetSession)
		r.Get("/api/sessions", s.handleListSessions)

		r.Get("/api/monitoring/status", s.handleMonitoringStatus)
		r.Get("/api/metrics", s.handleMetrics)

		r.Get("/api/zones", s.handleListZones)
		r.Get("/api/zones/{location}/update", s.handleZoneUpdate)
	})
}

// requireReady rejects requests until the service has started.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	storeStatus := "connected"
	if err := s.pingStore(r.Context()); err != nil {
		storeStatus = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"store":   storeStatus,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type createSessionRequest struct {
	Location     string `json:"location"`
	OperatorName string `json:"operator_name"`
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeCreateRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	location := strings.TrimSpace(req.Location)
	if location != "" {
		location = s.zones.Registry().Canonical(location)
	}

	result, err := s.sessionManager.CreateSession(r.Context(), location, req.OperatorName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeCreateRequest accepts a JSON body, form values or an empty body.
func decodeCreateRequest(r *http.Request, req *createSessionRequest) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, req); err != nil {
			return fmt.Errorf("invalid JSON body: %w", err)
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return fmt.Errorf("invalid form body: %w", err)
		}
		req.Location = r.FormValue("location")
		req.OperatorName = r.FormValue("operator_name")
	default:
		req.Location = r.URL.Query().Get("location")
		req.OperatorName = r.URL.Query().Get("operator_name")
	}
	return nil
}

func (s *Service) handleIngestFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFrameBytes)

	image, err := readFrame(r, s.config.MaxFrameBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "frame exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.sessionManager.IngestFrame(r.Context(), id, image)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// readFrame extracts the image from a multipart upload or a raw body.
func readFrame(r *http.Request, maxBytes int64) ([]byte, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}
	for _, field := range frameFields {
		f, _, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return nil, fmt.Errorf("%w: no frame file in upload", session.ErrInvalidInput)
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.sessionManager.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessionManager.ListSessions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	views := make([]any, 0, len(sessions))
	for _, sess := range sessions {
		if location != "" && !strings.EqualFold(sess.Location, location) {
			continue
		}
		views = append(views, session.View(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views, "count": len(views)})
}

func (s *Service) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	storeStatus := "connected"
	if err := s.pingStore(r.Context()); err != nil {
		storeStatus = "error: " + err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "active",
		"version":       s.version,
		"store_status":  storeStatus,
		"store_backend": s.store.Name(),
		"sessions_path": s.store.URI(objstore.SessionsPrefix),
		"frames_path":   s.store.URI(objstore.FlaggedFramesPrefix),
		"inference":     s.inferenceBackend,
		"sse_clients":   s.sseBroadcaster.ClientCount(),
		"zones":         s.zones.Registry().Names(),
		"endpoints": []string{
			"POST /api/session/create",
			"POST /api/session/{id}/frame",
			"GET /api/session/{id}",
			"GET /api/sessions",
			"GET /api/monitoring/status",
			"GET /api/metrics",
			"GET /api/zones",
			"GET /api/zones/{location}/update",
			"GET /api/stream",
			"GET /health",
		},
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

func (s *Service) handleListZones(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"zones": s.zones.Registry().All()})
}

func (s *Service) handleZoneUpdate(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "location")
	location, err := url.PathUnescape(raw)
	if err != nil {
		location = raw
	}
	location = strings.TrimSpace(location)
	if location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}

	reg := s.zones.Registry()
	name := reg.Canonical(location)
	latest, err := s.sessionManager.LatestSession(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	zone, _ := reg.Get(name)
	writeJSON(w, http.StatusOK, zones.BuildUpdate(name, zone, latest))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
