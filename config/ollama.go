package config

import (
	"os"

	"github.com/rs/zerolog"

	bckollama "github.com/aschepis/switchboard/backend/ollama"
)

// LoadOllamaConfig returns the Ollama host from config, with the OLLAMA_HOST
// environment variable taking precedence.
func LoadOllamaConfig(cfg *Config) (host string) {
	if cfg != nil {
		host = cfg.Ollama.Host
	}
	if envHost := os.Getenv("OLLAMA_HOST"); envHost != "" {
		host = envHost
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return host
}

// NewOllamaBackend creates the backend for one Ollama-served variant.
func NewOllamaBackend(cfg *Config, variantID string, variant *VariantConfig, logger zerolog.Logger) (*bckollama.Client, error) {
	host := LoadOllamaConfig(cfg)
	return bckollama.New(variantID, variant.Model, host, variant.Capabilities, logger)
}
