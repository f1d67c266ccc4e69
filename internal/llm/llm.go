// Package llm wraps chat completion calls behind a small interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/opsboard/opsboard-api/internal/config"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no API key is configured
var ErrNotConfigured = errors.New("llm not configured")

// ErrEmptyResponse is returned when the model answers with no content
var ErrEmptyResponse = errors.New("llm returned no content")

// Prompt is a single-turn request
type Prompt struct {
	System string
	User   string
	// JSON asks the model for a JSON object response
	JSON bool
}

// Completer returns the model's text answer to a prompt
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// OpenAICompleter implements Completer against any OpenAI-compatible endpoint
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOpenAICompleter(cfg *config.LLMConfig, logger *zap.Logger) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		logger:      logger.Named("llm"),
	}, nil
}

func (c *OpenAICompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	}
	if prompt.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if isTimeout(ctx, err) {
			c.logger.Warn("Completion timed out", zap.Duration("elapsed", time.Since(start)))
			return "", fmt.Errorf("chat completion: %w", context.DeadlineExceeded)
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error("Completion failed",
				zap.Int("status", apiErr.HTTPStatusCode),
				zap.String("type", apiErr.Type),
				zap.String("message", apiErr.Message),
			)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}

	c.logger.Debug("Completion finished",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StripCodeFence removes a surrounding markdown code fence, which models add despite instructions
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
