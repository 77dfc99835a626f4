// Package config loads the switchboard YAML configuration: provider
// credentials, the variant catalog, experiment definitions, and dispatch
// defaults. Defaults are applied first and file values merged on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/switchboard/backend"
	"github.com/aschepis/switchboard/catalog"
	"github.com/aschepis/switchboard/experiment"
)

// AnthropicConfig represents configuration for the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // Anthropic API key
}

// OllamaConfig represents configuration for the Ollama provider.
type OllamaConfig struct {
	Host    string `yaml:"host,omitempty"`    // Ollama host (default: "http://localhost:11434")
	Timeout int    `yaml:"timeout,omitempty"` // Request timeout in seconds
}

// OpenAIConfig represents configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// VariantConfig declares one selectable variant: which provider and model
// serve it, plus the catalog metadata used for best-fit search and cost
// estimation.
type VariantConfig struct {
	Provider          string               `yaml:"provider"` // Required: "anthropic", "openai", or "ollama"
	Model             string               `yaml:"model"`    // Provider-side model identifier
	Name              string               `yaml:"name,omitempty"`
	Family            string               `yaml:"family,omitempty"`
	Tier              string               `yaml:"tier,omitempty"`
	Capabilities      backend.Capabilities `yaml:"capabilities,omitempty"`
	Pricing           catalog.Pricing      `yaml:"pricing,omitempty"`
	Performance       catalog.Performance  `yaml:"performance,omitempty"`
	Deprecated        bool                 `yaml:"deprecated,omitempty"`
	RecommendedFor    []string             `yaml:"recommended_for,omitempty"`
	NotRecommendedFor []string             `yaml:"not_recommended_for,omitempty"`
}

// DispatchConfig holds the dispatcher defaults.
type DispatchConfig struct {
	Timeout    int    `yaml:"timeout,omitempty"`     // Per-call timeout in seconds
	Fallback   string `yaml:"fallback,omitempty"`    // Default fallback variant id
	MaxRetries int    `yaml:"max_retries,omitempty"` // Retry budget for DispatchWithRetry
}

// DatabaseConfig holds snapshot persistence settings.
type DatabaseConfig struct {
	Path           string `yaml:"path,omitempty"`            // sqlite file path
	MigrationsPath string `yaml:"migrations_path,omitempty"` // migration source directory
}

// Config is the root switchboard configuration.
type Config struct {
	DefaultVariant string         `yaml:"default_variant,omitempty"`
	Dispatch       DispatchConfig `yaml:"dispatch,omitempty"`
	Database       DatabaseConfig `yaml:"database,omitempty"`

	// Provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`

	Variants    map[string]*VariantConfig `yaml:"variants,omitempty"`
	Experiments []experiment.Config       `yaml:"experiments,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via SWITCHBOARD_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("SWITCHBOARD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.switchboard/config.yaml"
	}
	return filepath.Join(homeDir, ".switchboard", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load loads configuration from the given path, merging file values onto
// defaults. A missing file yields the defaults alone.
func Load(path string) (*Config, error) {
	defaults := Config{
		Dispatch: DispatchConfig{
			Timeout:    60,
			MaxRetries: 3,
		},
		Database: DatabaseConfig{
			Path:           "switchboard.db",
			MigrationsPath: "migrations/sql",
		},
		Ollama: OllamaConfig{
			Host:    "http://localhost:11434",
			Timeout: 60,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Variants: make(map[string]*VariantConfig),
	}

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var fileConfig Config
	if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	if defaults.Variants == nil {
		defaults.Variants = make(map[string]*VariantConfig)
	}

	// Apply smart defaults to variants
	for id, variantCfg := range defaults.Variants {
		if variantCfg.Name == "" {
			variantCfg.Name = id
		}
		if variantCfg.Capabilities.MaxTokens == 0 {
			variantCfg.Capabilities.MaxTokens = 2048
		}
	}

	return &defaults, nil
}

// Save writes the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Descriptor converts a variant config into its catalog entry.
func (v *VariantConfig) Descriptor(id string) catalog.Descriptor {
	return catalog.Descriptor{
		ID:                id,
		Name:              v.Name,
		Family:            v.Family,
		Tier:              v.Tier,
		Capabilities:      v.Capabilities,
		Pricing:           v.Pricing,
		Performance:       v.Performance,
		Deprecated:        v.Deprecated,
		RecommendedFor:    v.RecommendedFor,
		NotRecommendedFor: v.NotRecommendedFor,
	}
}
