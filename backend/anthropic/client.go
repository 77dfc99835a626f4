// Package anthropic implements the backend.Backend contract against
// Anthropic's cloud JSON API using the official SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/switchboard/backend"
	"github.com/rs/zerolog"
)

// probePrompt is the canned prompt used by IsAvailable. It is deliberately
// tiny so the probe round-trip stays cheap.
const probePrompt = "ping"

// probeTimeout bounds the availability probe independently of any caller
// deadline so a hung provider cannot stall availability checks.
const probeTimeout = 10 * time.Second

// Client implements the backend.Backend interface for Anthropic's API.
type Client struct {
	client  *anthropic.Client
	variant string
	model   string
	caps    backend.Capabilities
	logger  zerolog.Logger
}

// New creates a new Anthropic-backed Client for the given variant.
// The variant identifier is stamped onto every response so callers can tell
// which catalog entry actually executed.
func New(variant, model, apiKey string, caps backend.Capabilities, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:  &client,
		variant: variant,
		model:   model,
		caps:    caps,
		logger:  logger.With().Str("component", "anthropic").Str("variant", variant).Logger(),
	}, nil
}

// Execute implements backend.Backend.Execute.
func (c *Client) Execute(ctx context.Context, req *backend.Request) *backend.Response {
	start := time.Now()
	if req == nil {
		return backend.NewErrorResponse(c.variant, start, backend.NewConfigurationError("request is required"))
	}

	maxTokens := c.caps.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return backend.NewErrorResponse(c.variant, start, classify(ctx, "anthropic call failed", err))
	}

	var output string
	for _, blockUnion := range message.Content {
		if block, ok := blockUnion.AsAny().(anthropic.TextBlock); ok {
			output += block.Text
		}
	}

	usage := &backend.Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
		TotalTokens:  message.Usage.InputTokens + message.Usage.OutputTokens,
	}

	c.logger.Debug().
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Anthropic call complete")

	return &backend.Response{
		Output:    output,
		Variant:   c.variant,
		Timestamp: start,
		Duration:  time.Since(start),
		Usage:     usage,
		Metadata:  map[string]string{"stop_reason": string(message.StopReason)},
	}
}

// IsAvailable implements backend.Backend.IsAvailable with a one-token probe.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.client.Messages.New(probeCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(probePrompt)),
		},
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

// classify converts a provider error into the neutral taxonomy, folding
// context expiry into a timeout error.
func classify(ctx context.Context, message string, err error) *backend.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return backend.NewTimeoutError(message, err)
	}
	return backend.NewTransportError(message, err)
}

// Ensure Client implements backend.Backend
var _ backend.Backend = (*Client)(nil)
