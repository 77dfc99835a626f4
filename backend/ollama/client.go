// Package ollama implements the backend.Backend contract against a locally
// hosted Ollama daemon over its HTTP API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aschepis/switchboard/backend"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

const probeTimeout = 5 * time.Second

// Client implements the backend.Backend interface for Ollama's API.
type Client struct {
	client  *api.Client
	variant string
	model   string
	caps    backend.Capabilities
	logger  zerolog.Logger
}

// New creates a new Ollama-backed Client for the given variant.
// If host is empty, it uses the environment default (OLLAMA_HOST or
// http://localhost:11434).
func New(variant, model, host string, caps backend.Capabilities, logger zerolog.Logger) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var client *api.Client
	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &Client{
		client:  client,
		variant: variant,
		model:   model,
		caps:    caps,
		logger:  logger.With().Str("component", "ollama").Str("variant", variant).Logger(),
	}, nil
}

// parseHost parses a host string into a URL, defaulting the scheme to http.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Execute implements backend.Backend.Execute.
func (c *Client) Execute(ctx context.Context, req *backend.Request) *backend.Response {
	start := time.Now()
	if req == nil {
		return backend.NewErrorResponse(c.variant, start, backend.NewConfigurationError("request is required"))
	}

	messages := []api.Message{{Role: "user", Content: req.Prompt}}
	if req.System != "" {
		messages = append([]api.Message{{Role: "system", Content: req.System}}, messages...)
	}

	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   new(bool), // false for non-streaming
		Options:  make(map[string]interface{}),
	}
	if c.caps.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(c.caps.MaxTokens)
	}

	var chatResp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return backend.NewErrorResponse(c.variant, start, backend.NewTimeoutError("ollama call timed out", err))
		}
		return backend.NewErrorResponse(c.variant, start, backend.NewTransportError("ollama chat request failed", err))
	}

	// Ollama may not report detailed usage for every model.
	usage := &backend.Usage{}
	if chatResp.PromptEvalCount > 0 {
		usage.InputTokens = int64(chatResp.PromptEvalCount)
	}
	if chatResp.EvalCount > 0 {
		usage.OutputTokens = int64(chatResp.EvalCount)
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	c.logger.Debug().
		Int64("input_tokens", usage.InputTokens).
		Int64("output_tokens", usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Ollama call complete")

	return &backend.Response{
		Output:    chatResp.Message.Content,
		Variant:   c.variant,
		Timestamp: start,
		Duration:  time.Since(start),
		Usage:     usage,
	}
}

// IsAvailable implements backend.Backend.IsAvailable.
// The daemon heartbeat is the minimal round-trip for a local runtime; it
// answers without loading a model.
func (c *Client) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.client.Heartbeat(probeCtx); err != nil {
		c.logger.Debug().Err(err).Msg("Availability probe failed")
		return false
	}
	return true
}

// Capabilities implements backend.Backend.Capabilities.
func (c *Client) Capabilities() backend.Capabilities {
	return c.caps
}

// Ensure Client implements backend.Backend
var _ backend.Backend = (*Client)(nil)
