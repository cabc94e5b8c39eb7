package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"postagent-go/internal/apperr"
)

// DefaultSystemPrompt frames the generated text as a single social post.
const DefaultSystemPrompt = "You write a single social media post. Reply with the post text only, no quotes or hashtags unless asked."

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a compatible gateway.
	BaseURL      string
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
}

// OpenAISource generates each post with a chat completion.
type OpenAISource struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAISource creates an OpenAISource.
func NewOpenAISource(cfg OpenAIConfig) (*OpenAISource, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", apperr.ErrValidation)
	}
	if cfg.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", apperr.ErrValidation)
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &OpenAISource{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

// Next implements Source.
func (s *OpenAISource) Next(ctx context.Context) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: s.cfg.Prompt},
		},
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", apperr.NewUpstream("content generation", apiErr.HTTPStatusCode, []byte(apiErr.Message), nil)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", apperr.NewUpstream("content generation", reqErr.HTTPStatusCode, reqErr.Body, nil)
		}
		return "", apperr.NewUpstream("content generation", 0, nil, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("content generation: %w", ErrNoContent)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	text = strings.Trim(text, `"`)
	if text == "" {
		return "", fmt.Errorf("content generation: %w", ErrNoContent)
	}
	return text, nil
}
