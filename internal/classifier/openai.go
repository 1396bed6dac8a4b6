package classifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible vision backend.
// BaseURL points at self-hosted servers such as vLLM or Ollama.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	MIMEType string
}

// OpenAIInference sends the frame as a data-URI image part.
type OpenAIInference struct {
	client   *openai.Client
	model    string
	mimeType string
}

// NewOpenAIInference creates an OpenAI-compatible backend.
func NewOpenAIInference(cfg OpenAIConfig) (*OpenAIInference, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	mimeType := cfg.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	return &OpenAIInference{
		client:   openai.NewClientWithConfig(config),
		model:    cfg.Model,
		mimeType: mimeType,
	}, nil
}

func (o *OpenAIInference) Ask(ctx context.Context, image []byte, prompt string) (string, error) {
	dataURI := "data:" + o.mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		MaxTokens:   8,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURI, Detail: openai.ImageURLDetailLow},
				},
				{
					Type: openai.ChatMessagePartTypeText,
					Text: prompt,
				},
			},
		}},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", &EmptyResponseError{Backend: o.Name()}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &EmptyResponseError{Backend: o.Name()}
	}
	return text, nil
}

func (o *OpenAIInference) Name() string { return "openai" }
