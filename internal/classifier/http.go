package classifier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// HTTPInference posts multipart image+prompt requests to an ask_image style
// endpoint that answers {"text": "..."}.
type HTTPInference struct {
	url    string
	client *http.Client
}

// NewHTTPInference creates an HTTP backend. A nil client uses http.DefaultClient;
// per-call deadlines come from the caller's context.
func NewHTTPInference(url string, client *http.Client) *HTTPInference {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPInference{url: url, client: client}
}

type askResponse struct {
	Text string `json:"text"`
}

func (h *HTTPInference) Ask(ctx context.Context, image []byte, prompt string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return "", fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write image part: %w", err)
	}
	if err := mw.WriteField("prompt", prompt); err != nil {
		return "", fmt.Errorf("write prompt field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return "", &EmptyResponseError{Backend: h.Name()}
	}
	return out.Text, nil
}

func (h *HTTPInference) Name() string { return "http" }

// URL returns the configured endpoint.
func (h *HTTPInference) URL() string { return h.url }
