package worker

import (
	"bytes"
	"context"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/thebtf/crowdwatch/internal/alert"
	"github.com/thebtf/crowdwatch/internal/classifier"
	"github.com/thebtf/crowdwatch/internal/config"
	"github.com/thebtf/crowdwatch/internal/notify"
	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/internal/worker/session"
	"github.com/thebtf/crowdwatch/internal/zones"
	"github.com/thebtf/crowdwatch/pkg/models"
)

var testFrame = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}

type captureNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (c *captureNotifier) Notify(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type testEnv struct {
	svc        *Service
	store      *objstore.Memory
	inference  *classifier.MockInference
	notifier   *captureNotifier
	dispatcher *alert.Dispatcher
}

// testService creates a ready Service over an in-memory store.
func testService(t *testing.T) *testEnv {
	t.Helper()

	store := objstore.NewMemory()
	repo := session.NewRepository(store)
	inference := classifier.NewMockInference()
	inference.Fallback = classifier.MockAnswer{Text: "Low"}

	notifier := &captureNotifier{}
	dispatcher, err := alert.NewDispatcher(notifier, repo, alert.DispatcherConfig{AttachImages: -1})
	require.NoError(t, err)

	zonesPath := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(zonesPath, []byte(`
zones:
  - name: Mela Zone B
    aliases: ["B"]
    description: River ghat entrance
`), 0600))
	holder, err := zones.NewHolder(zonesPath)
	require.NoError(t, err)

	manager := session.NewManager(repo, classifier.New(inference), dispatcher)
	svc, err := NewService(Deps{
		Version:          "test-version",
		Config:           config.Default(),
		Store:            store,
		Manager:          manager,
		Zones:            holder,
		InferenceBackend: inference.Name(),
	})
	require.NoError(t, err)
	svc.ready.Store(true)

	t.Cleanup(func() {
		svc.cancel()
		dispatcher.Close()
	})
	return &testEnv{svc: svc, store: store, inference: inference, notifier: notifier, dispatcher: dispatcher}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.svc.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createSession(t *testing.T, body string) models.CreateSessionResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/session/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[models.CreateSessionResult](t, rec)
}

func multipartFrame(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "frame.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) postFrame(t *testing.T, id string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartFrame(t, "frame", testFrame)
	req := httptest.NewRequest(http.MethodPost, "/api/session/"+id+"/frame", body)
	req.Header.Set("Content-Type", ct)
	return e.do(t, req)
}

func TestHandleCreateSession(t *testing.T) {
	env := testService(t)

	tests := []struct {
		name         string
		body         string
		contentType  string
		wantLocation string
	}{
		{"json body", `{"location": "Gate 3", "operator_name": "Night Shift"}`, "application/json", "Gate 3"},
		{"alias resolves to zone", `{"location": "b"}`, "application/json", "Mela Zone B"},
		{"empty json body uses defaults", ``, "application/json", session.DefaultLocation},
		{"form body", "location=Gate+7&operator_name=Ops", "application/x-www-form-urlencoded", "Gate 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/session/create", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := env.do(t, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			got := decode[models.CreateSessionResult](t, rec)
			assert.Len(t, got.SessionID, 8)
			assert.Equal(t, models.SessionStatusCreated, got.Status)
			assert.Equal(t, tt.wantLocation, got.Location)
			assert.NotEmpty(t, got.CreatedAt)
		})
	}
}

func TestHandleCreateSession_BadJSON(t *testing.T) {
	env := testService(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session/create", strings.NewReader(`{nope`))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid JSON")
}

func TestHandleIngestFrame(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{"location": "Gate 3"}`)
	env.inference.QueueFrame("High", "Chaotic")

	rec := env.postFrame(t, created.SessionID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[models.FrameAnalysisResult](t, rec)
	assert.Equal(t, 1, got.FrameNumber)
	assert.Equal(t, models.DensityHigh, got.Density)
	assert.Equal(t, models.MotionChaotic, got.Motion)
	assert.Equal(t, models.RiskCritical, got.RiskLevel)
	assert.Equal(t, 100.0, got.RiskScore)
	assert.Equal(t, 1, got.FramesFlagged)

	exists, err := env.store.Exists(context.Background(), objstore.FrameKey(created.SessionID, 1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleIngestFrame_RawBody(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{}`)

	req := httptest.NewRequest(http.MethodPost, "/api/session/"+created.SessionID+"/frame", bytes.NewReader(testFrame))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[models.FrameAnalysisResult](t, rec)
	assert.Equal(t, models.RiskSafe, got.RiskLevel, "fallback answers are Low / unknown motion")
}

func TestHandleIngestFrame_Errors(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{}`)

	tests := []struct {
		name       string
		id         string
		body       func() (*bytes.Buffer, string)
		wantStatus int
	}{
		{
			name:       "unknown session",
			id:         "deadbeef",
			body:       func() (*bytes.Buffer, string) { return multipartFrame(t, "frame", testFrame) },
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "empty raw body",
			id:         created.SessionID,
			body:       func() (*bytes.Buffer, string) { return &bytes.Buffer{}, "image/jpeg" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "multipart without frame field",
			id:         created.SessionID,
			body:       func() (*bytes.Buffer, string) { return multipartFrame(t, "other", testFrame) },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "alternate image field accepted",
			id:         created.SessionID,
			body:       func() (*bytes.Buffer, string) { return multipartFrame(t, "image", testFrame) },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.body()
			req := httptest.NewRequest(http.MethodPost, "/api/session/"+tt.id+"/frame", body)
			req.Header.Set("Content-Type", ct)
			rec := env.do(t, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestHandleIngestFrame_TooLarge(t *testing.T) {
	env := testService(t)
	env.svc.config.MaxFrameBytes = 4
	created := env.createSession(t, `{}`)

	req := httptest.NewRequest(http.MethodPost, "/api/session/"+created.SessionID+"/frame", bytes.NewReader(testFrame))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := env.do(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleGetSession(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{"location": "Gate 3", "operator_name": "Night Shift"}`)
	env.inference.QueueFrame("Medium", "Chaotic")
	require.Equal(t, http.StatusOK, env.postFrame(t, created.SessionID).Code)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/session/"+created.SessionID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[models.SessionStatusView](t, rec)
	assert.Equal(t, "Night Shift", view.OperatorName)
	assert.Equal(t, 1, view.FramesAnalyzed)
	assert.Equal(t, 78.0, view.RiskScore)
	assert.Equal(t, models.VerdictCritical, view.Verdict)
	assert.Equal(t, 1, view.AnalysisBreakdown.RiskLevels.High)
	assert.False(t, view.AlertSent)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/session/unknown1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err := env.store.Get(context.Background(), objstore.SessionKey("unknown1"))
	assert.ErrorIs(t, err, objstore.ErrNotFound, "lookup never creates a record")
}

func TestAlertLatch(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{"location": "Gate 3"}`)
	for range 5 {
		env.inference.QueueFrame("High", "Chaotic")
	}

	getView := func() models.SessionStatusView {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/session/"+created.SessionID, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return decode[models.SessionStatusView](t, rec)
	}

	for i := range 4 {
		rec := env.postFrame(t, created.SessionID)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, i+1, decode[models.FrameAnalysisResult](t, rec).FramesAnalyzed)
	}
	assert.False(t, getView().AlertSent, "no alert before five frames")

	require.Equal(t, http.StatusOK, env.postFrame(t, created.SessionID).Code)
	assert.True(t, getView().AlertSent)
}

func TestAlertDelivered(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{"location": "Gate 3"}`)
	for range 6 {
		env.inference.QueueFrame("High", "Chaotic")
	}

	for range 6 {
		require.Equal(t, http.StatusOK, env.postFrame(t, created.SessionID).Code)
	}
	env.dispatcher.Close()

	require.Equal(t, 1, env.notifier.count(), "the latch allows exactly one alert")
	msg := env.notifier.msgs[0]
	assert.Equal(t, "CROWD SAFETY ALERT - Gate 3 (Session "+created.SessionID+")", msg.Subject)
	assert.Contains(t, msg.Body, "Total Frames Analyzed: 5")
}

func TestHandleListSessions(t *testing.T) {
	env := testService(t)
	env.createSession(t, `{"location": "Gate 3"}`)
	env.createSession(t, `{"location": "Gate 4"}`)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["count"])

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions?location=gate+4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["count"])
}

func TestHandleZoneUpdate(t *testing.T) {
	env := testService(t)
	created := env.createSession(t, `{"location": "Mela Zone B"}`)
	env.inference.QueueFrame("High", "Calm")
	require.Equal(t, http.StatusOK, env.postFrame(t, created.SessionID).Code)

	for _, path := range []string{"/api/zones/B/update", "/api/zones/Mela%20Zone%20B/update"} {
		rec := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)

		u := decode[zones.Update](t, rec)
		assert.Equal(t, "Mela Zone B", u.Zone)
		assert.Equal(t, "River ghat entrance", u.Description)
		assert.Equal(t, created.SessionID, u.SessionID)
		assert.Equal(t, 1, u.HighDensity)
		assert.Contains(t, u.Message, "Mela Zone B Security Update")
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zones/Nowhere/update", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListZones(t *testing.T) {
	env := testService(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/zones", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mela Zone B")
}

func TestHandleMonitoringStatus(t *testing.T) {
	env := testService(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/monitoring/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "connected", got["store_status"])
	assert.Equal(t, "memory", got["store_backend"])
	assert.Equal(t, "memory://sessions/", got["sessions_path"])
	assert.Equal(t, "memory://flagged_frames/", got["frames_path"])
	assert.Equal(t, "mock", got["inference"])
	assert.NotEmpty(t, got["endpoints"])
}

func TestHandleHealth_ReturnsVersion(t *testing.T) {
	env := testService(t)
	env.svc.version = "test-version-1.2.3"

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", got["status"])
	assert.Equal(t, "test-version-1.2.3", got["version"])
	assert.Equal(t, "connected", got["store"])
}

func TestHandleVersion(t *testing.T) {
	env := testService(t)
	env.svc.version = "v2.0.0-beta"

	rec := httptest.NewRecorder()
	env.svc.handleVersion(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2.0.0-beta", decode[map[string]string](t, rec)["version"])
}

func TestHandleReady(t *testing.T) {
	env := testService(t)

	env.svc.ready.Store(false)
	rec := httptest.NewRecorder()
	env.svc.handleReady(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.svc.ready.Store(true)
	rec = httptest.NewRecorder()
	env.svc.handleReady(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[map[string]string](t, rec)["status"])
}

func TestRequireReadyMiddleware(t *testing.T) {
	env := testService(t)
	handler := env.svc.requireReady(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))

	env.svc.ready.Store(false)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.svc.ready.Store(true)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestServe_HTTPAndGRPCOnOnePort(t *testing.T) {
	env := testService(t)
	env.svc.ready.Store(false)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- env.svc.Serve(l) }()

	base := "http://" + l.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(l.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	require.NoError(t, conn.Close())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	require.NoError(t, env.svc.Shutdown(shutdownCtx))

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
