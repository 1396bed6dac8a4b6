package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/crowdwatch/internal/metrics"
	"github.com/thebtf/crowdwatch/pkg/models"
)

var frame = []byte{0xff, 0xd8, 0xff, 0xe0}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		density     MockAnswer
		motion      MockAnswer
		wantDensity models.Density
		wantMotion  models.Motion
	}{
		{"both valid", MockAnswer{Text: "High"}, MockAnswer{Text: "Chaotic"}, models.DensityHigh, models.MotionChaotic},
		{"case and punctuation", MockAnswer{Text: " medium.\n"}, MockAnswer{Text: "CALM"}, models.DensityMedium, models.MotionCalm},
		{"density fails", MockAnswer{Err: errors.New("boom")}, MockAnswer{Text: "Calm"}, models.DensityUnknown, models.MotionCalm},
		{"motion fails", MockAnswer{Text: "Low"}, MockAnswer{Err: &StatusError{Code: 503}}, models.DensityLow, models.MotionUnknown},
		{"off-vocabulary", MockAnswer{Text: "Crowded"}, MockAnswer{Text: "The crowd is calm"}, models.DensityUnknown, models.MotionUnknown},
		{"both fail", MockAnswer{Err: errors.New("a")}, MockAnswer{Err: errors.New("b")}, models.DensityUnknown, models.MotionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockInference().
				Queue(DensityPrompt, tt.density).
				Queue(MotionPrompt, tt.motion)
			c := New(mock)

			got := c.Classify(context.Background(), frame)
			assert.Equal(t, tt.wantDensity, got.Density)
			assert.Equal(t, tt.wantMotion, got.Motion)
			assert.Equal(t, 2, mock.CallCount())
		})
	}
}

func TestClassify_CallsRunConcurrently(t *testing.T) {
	delay := 150 * time.Millisecond
	mock := NewMockInference().
		Queue(DensityPrompt, MockAnswer{Text: "Low", Delay: delay}).
		Queue(MotionPrompt, MockAnswer{Text: "Calm", Delay: delay})

	start := time.Now()
	got := New(mock).Classify(context.Background(), frame)
	elapsed := time.Since(start)

	assert.Equal(t, models.FrameAnalysis{Density: models.DensityLow, Motion: models.MotionCalm}, got)
	assert.Less(t, elapsed, 2*delay)
}

func TestClassify_PerCallTimeout(t *testing.T) {
	mock := NewMockInference().
		Queue(DensityPrompt, MockAnswer{Text: "High", Delay: time.Second}).
		Queue(MotionPrompt, MockAnswer{Text: "Chaotic"})

	m, err := metrics.New()
	require.NoError(t, err)

	got := New(mock, WithTimeout(50*time.Millisecond), WithMetrics(m)).Classify(context.Background(), frame)
	assert.Equal(t, models.DensityUnknown, got.Density)
	assert.Equal(t, models.MotionChaotic, got.Motion)
	assert.Equal(t, int64(1), m.GetSnapshot().ClassifierFailures)
}

func TestHTTPInference(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, frame, data)

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("prompt") == DensityPrompt {
			_ = json.NewEncoder(w).Encode(map[string]string{"text": "High"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "Chaotic"})
	}))
	defer srv.Close()

	inf := NewHTTPInference(srv.URL, srv.Client())
	got := New(inf).Classify(context.Background(), frame)
	assert.Equal(t, models.FrameAnalysis{Density: models.DensityHigh, Motion: models.MotionChaotic}, got)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "http", inf.Name())
}

func TestHTTPInference_Errors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewHTTPInference(srv.URL, nil).Ask(context.Background(), frame, "p")
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
		assert.Equal(t, "overloaded", statusErr.Body)
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		_, err := NewHTTPInference(srv.URL, nil).Ask(context.Background(), frame, "p")
		assert.ErrorContains(t, err, "decode")
	})

	t.Run("empty text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"text": "  "}`))
		}))
		defer srv.Close()

		_, err := NewHTTPInference(srv.URL, nil).Ask(context.Background(), frame, "p")
		var empty *EmptyResponseError
		assert.ErrorAs(t, err, &empty)
	})
}

func TestOpenAIInference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "data:image/jpeg;base64,")

		answer := "Calm"
		if strings.Contains(string(body), "densely") {
			answer = "medium"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-vlm",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": answer},
			}},
		})
	}))
	defer srv.Close()

	inf, err := NewOpenAIInference(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "test-vlm"})
	require.NoError(t, err)

	got := New(inf).Classify(context.Background(), frame)
	assert.Equal(t, models.FrameAnalysis{Density: models.DensityMedium, Motion: models.MotionCalm}, got)
}

func TestNewOpenAIInference_Validation(t *testing.T) {
	_, err := NewOpenAIInference(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewOpenAIInference(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
}

func TestNewGeminiInference_RequiresKey(t *testing.T) {
	_, err := NewGeminiInference(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
