package config

import (
	"os"

	"github.com/rs/zerolog"

	bckanthropic "github.com/aschepis/switchboard/backend/anthropic"
)

// LoadAnthropicConfig returns the Anthropic API key from config, with the
// ANTHROPIC_API_KEY environment variable taking precedence.
func LoadAnthropicConfig(cfg *Config) (apiKey string) {
	if cfg != nil {
		apiKey = cfg.Anthropic.APIKey
	}
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	return apiKey
}

// NewAnthropicBackend creates the backend for one Anthropic-served variant.
func NewAnthropicBackend(cfg *Config, variantID string, variant *VariantConfig, logger zerolog.Logger) (*bckanthropic.Client, error) {
	apiKey := LoadAnthropicConfig(cfg)
	return bckanthropic.New(variantID, variant.Model, apiKey, variant.Capabilities, logger)
}
