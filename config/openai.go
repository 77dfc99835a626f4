package config

import (
	"os"

	"github.com/rs/zerolog"

	bckopenai "github.com/aschepis/switchboard/backend/openai"
)

// LoadOpenAIConfig returns the OpenAI credentials and endpoint from config,
// with environment variables taking precedence.
func LoadOpenAIConfig(cfg *Config) (apiKey, baseURL, organization string) {
	if cfg != nil {
		apiKey = cfg.OpenAI.APIKey
		baseURL = cfg.OpenAI.BaseURL
		organization = cfg.OpenAI.Organization
	}

	if envAPIKey := os.Getenv("OPENAI_API_KEY"); envAPIKey != "" {
		apiKey = envAPIKey
	}
	if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
		baseURL = envBaseURL
	}
	if envOrg := os.Getenv("OPENAI_ORGANIZATION"); envOrg != "" {
		organization = envOrg
	}

	return apiKey, baseURL, organization
}

// NewOpenAIBackend creates the backend for one OpenAI-served variant.
func NewOpenAIBackend(cfg *Config, variantID string, variant *VariantConfig, logger zerolog.Logger) (*bckopenai.Client, error) {
	apiKey, baseURL, organization := LoadOpenAIConfig(cfg)
	return bckopenai.New(variantID, variant.Model, apiKey, baseURL, organization, variant.Capabilities, logger)
}
