package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/catalog"
)

// BuildCatalog registers every configured variant in a fresh catalog.
func BuildCatalog(cfg *Config) *catalog.Catalog {
	cat := catalog.New()
	for id, variant := range cfg.Variants {
		cat.Register(variant.Descriptor(id))
	}
	return cat
}

// BuildBackends constructs a backend per configured variant, keyed by variant
// id. An unknown provider name is a configuration error; a variant whose
// provider lacks credentials fails here rather than at dispatch time.
func BuildBackends(cfg *Config, logger zerolog.Logger) (map[string]backend.Backend, error) {
	backends := make(map[string]backend.Backend, len(cfg.Variants))
	for id, variant := range cfg.Variants {
		var (
			b   backend.Backend
			err error
		)
		switch variant.Provider {
		case "anthropic":
			b, err = NewAnthropicBackend(cfg, id, variant, logger)
		case "openai":
			b, err = NewOpenAIBackend(cfg, id, variant, logger)
		case "ollama":
			b, err = NewOllamaBackend(cfg, id, variant, logger)
		default:
			return nil, backend.NewConfigurationError(
				fmt.Sprintf("variant %q has unknown provider %q", id, variant.Provider))
		}
		if err != nil {
			return nil, fmt.Errorf("build backend for variant %q: %w", id, err)
		}
		backends[id] = b
	}
	return backends, nil
}
