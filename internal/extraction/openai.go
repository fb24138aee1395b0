package extraction

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultCompletionModel   = "gpt-4o-mini"
	defaultCompletionTimeout = 60 * time.Second
	maxCompletionAttempts    = 3
)

// OpenAICompleter prompts an OpenAI-compatible chat endpoint with a hard
// per-call timeout and bounded retry with exponential backoff.
type OpenAICompleter struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAICompleter builds a completer from the environment. Supported
// variables: OPENAI_API_KEY (required), OPENAI_MODEL, OPENAI_BASE_URL,
// OPENAI_HTTP_TIMEOUT (Go duration).
func NewOpenAICompleter() (*OpenAICompleter, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = defaultCompletionModel
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
	}

	timeout := defaultCompletionTimeout
	if raw := os.Getenv("OPENAI_HTTP_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		} else {
			log.Printf("Warning: invalid OPENAI_HTTP_TIMEOUT %q, using %s", raw, timeout)
		}
	}

	return &OpenAICompleter{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
	}, nil
}

func (c *OpenAICompleter) Name() string { return "openai:" + c.model }

// Complete sends one prompt. Transient failures are retried up to
// maxCompletionAttempts with doubling backoff; the caller's context is
// honored across attempts.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= maxCompletionAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, req)
		cancel()
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("completion returned no choices")
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < maxCompletionAttempts {
			log.Printf("Warning: completion attempt %d/%d failed (%v), retrying in %s",
				attempt, maxCompletionAttempts, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			backoff *= 2
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", maxCompletionAttempts, lastErr)
}
