package classifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey   string
	Model    string
	MIMEType string // image MIME type, default image/jpeg
}

// GeminiInference sends the frame inline to a Gemini model.
type GeminiInference struct {
	client   *genai.Client
	model    string
	mimeType string
}

// NewGeminiInference creates a Gemini backend.
func NewGeminiInference(ctx context.Context, cfg GeminiConfig) (*GeminiInference, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	mimeType := cfg.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &GeminiInference{client: client, model: model, mimeType: mimeType}, nil
}

func (g *GeminiInference) Ask(ctx context.Context, image []byte, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, g.mimeType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	var zero float32
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature:     &zero,
		MaxOutputTokens: 8,
	})
	if err != nil {
		return "", mapGeminiError(err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", &EmptyResponseError{Backend: g.Name()}
	}
	return text, nil
}

func (g *GeminiInference) Name() string { return "gemini" }

func mapGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != http.StatusOK {
		return &StatusError{Code: apiErr.Code, Body: apiErr.Message}
	}
	return fmt.Errorf("gemini generate: %w", err)
}
