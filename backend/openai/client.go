// Package openai implements the backend.Backend contract against OpenAI's
// cloud API (or any OpenAI-compatible endpoint via a custom base URL).
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const probePrompt = "ping"

const probeTimeout = 10 * time.Second

// Client implements the backend.Backend interface for OpenAI's API.
type Client struct {
	client  *openai.Client
	variant string
	model   string
	caps    backend.Capabilities
	logger  zerolog.Logger
}

// New creates a new OpenAI-backed Client for the given variant.
// If baseURL is empty, the default OpenAI API endpoint is used; a non-empty
// baseURL lets the same adapter front any OpenAI-compatible service.
func New(variant, model, apiKey, baseURL, organization string, caps backend.Capabilities, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if organization != "" {
		config.OrgID = organization
	}

	return &Client{
		client:  openai.NewClientWithConfig(config),
		variant: variant,
		model:   model,
		caps:    caps,
		logger:  logger.With().Str("component", "openai").Str("variant", variant).Logger(),
	}, nil
}

// Execute implements backend.Backend.Execute.
func (c *Client) Execute(ctx context.Context, req *backend.Request) *backend.Response {
	start := time.Now()
	if req == nil {
		return backend.NewErrorResponse(c.variant, start, backend.NewConfigurationError("request is required"))
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if req.System != "" {
		systemMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		}
		chatReq.Messages = append([]openai.ChatCompletionMessage{systemMsg}, chatReq.Messages...)
	}
	if c.caps.MaxTokens > 0 {
		chatReq.MaxTokens = int(c.caps.MaxTokens)
	}

	chatResp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return backend.NewErrorResponse(c.variant, start, classify(ctx, err))
	}
	if len(chatResp.Choices) == 0 {
		return backend.NewErrorResponse(c.variant, start,
			backend.NewTransportError("openai response had no choices", nil))
	}

	usage := &backend.Usage{
		InputTokens:  int64(chatResp.Usage.PromptTokens),
		OutputTokens: int64(chatResp.Usage.CompletionTokens),
		TotalTokens:  int64(chatResp.Usage.TotalTokens),
	}

	c.logger.Debug().
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("OpenAI call complete")

	return &backend.Response{
		Output:    chatResp.Choices[0].Message.Content,
		Variant:   c.variant,
		Timestamp: start,
		Duration:  time.Since(start),
		Usage:     usage,
		Metadata:  map[string]string{"finish_reason": string(chatResp.Choices[0].FinishReason)},
	}
}

// IsAvailable implements backend.Backend.IsAvailable with a one-token probe.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.client.CreateChatCompletion(probeCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: probePrompt},
		},
		MaxTokens: 1,
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("Availability probe failed")
		return false
	}
	return true
}

// Capabilities implements backend.Backend.Capabilities.
func (c *Client) Capabilities() backend.Capabilities {
	return c.caps
}

// classify converts an OpenAI API error into the neutral taxonomy.
func classify(ctx context.Context, err error) *backend.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return backend.NewTimeoutError("openai call timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		berr := backend.NewTransportError(fmt.Sprintf("openai API error: %s", apiErr.Message), err)
		berr.StatusCode = apiErr.HTTPStatusCode
		return berr
	}
	return backend.NewTransportError("openai call failed", err)
}

// Ensure Client implements backend.Backend
var _ backend.Backend = (*Client)(nil)
