package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// WebhookNotifier POSTs the report as JSON. Attachment bytes are not sent,
// only their names and sizes.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookNotifier creates a webhook channel.
func NewWebhookNotifier(url string, headers map[string]string, client *http.Client) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookNotifier{url: url, headers: headers, client: client}, nil
}

type webhookAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
}

type webhookPayload struct {
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Recipients  []string            `json:"recipients,omitempty"`
	Attachments []webhookAttachment `json:"attachments,omitempty"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	payload := webhookPayload{
		Subject:    msg.Subject,
		Body:       msg.Body,
		Recipients: msg.Recipients,
		Metadata:   msg.Metadata,
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, webhookAttachment{
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        len(a.Data),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (w *WebhookNotifier) Name() string { return "webhook" }
