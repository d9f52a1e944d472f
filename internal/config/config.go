package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Parley configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Provider configuration
	Provider ProviderConfig `yaml:"provider"`

	// Model catalog (default agent model + specialized models)
	Models []ModelConfig `yaml:"models"`

	// Chat defaults applied to new sessions
	Chat ChatConfig `yaml:"chat"`

	// Knowledge retrieval configuration
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig configures the model provider transport.
type ProviderConfig struct {
	Kind    string `yaml:"kind"` // openai, gemini
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ModelConfig describes one model in the catalog. The default agent model is
// found by the agent capability flag, never by name.
type ModelConfig struct {
	Name          string `yaml:"name"`
	Label         string `yaml:"label"`
	Agent         bool   `yaml:"agent"`
	DeepSearch    bool   `yaml:"deep_search"`
	DeepReasoning bool   `yaml:"deep_reasoning"`
	FastResponse  bool   `yaml:"fast_response"`
}

// ChatConfig holds the defaults a fresh session starts with.
type ChatConfig struct {
	SystemMessage  string  `yaml:"system_message"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxCtxMessages int     `yaml:"max_ctx_messages"`
}

// KnowledgeConfig configures retrieval-augmented prompting.
type KnowledgeConfig struct {
	DatabasePath string `yaml:"database_path"`
	MaxChunks    int    `yaml:"max_chunks"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UsagePath    string `yaml:"usage_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "parley",
		Version: "0.3.0",

		Provider: ProviderConfig{
			Kind:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Timeout: "120s",
		},

		Models: []ModelConfig{
			{Name: "gpt-4o", Label: "Agent", Agent: true},
			{Name: "sonar-deep-research", Label: "Deep Search", DeepSearch: true},
			{Name: "o3", Label: "Deep Reasoning", DeepReasoning: true},
			{Name: "gpt-4o-mini", Label: "Fast Response", FastResponse: true},
		},

		Chat: ChatConfig{
			SystemMessage:  "You are a helpful assistant.",
			Temperature:    0.9,
			MaxTokens:      4096,
			MaxCtxMessages: 10,
		},

		Knowledge: KnowledgeConfig{
			DatabasePath: "data/knowledge.db",
			MaxChunks:    8,
		},

		Storage: StorageConfig{
			DatabasePath: "data/parley.db",
			UsagePath:    "data/usage.json",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("PARLEY_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("PARLEY_PROVIDER"); v != "" {
		c.Provider.Kind = v
	}
}

// ProviderTimeout parses the provider timeout with a safe fallback.
func (c *Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	agents := 0
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model with empty name in catalog")
		}
		if m.Agent {
			agents++
		}
	}
	if agents == 0 {
		return fmt.Errorf("model catalog has no agent-capable model")
	}
	if c.Chat.MaxCtxMessages < 0 {
		return fmt.Errorf("max_ctx_messages must be >= 0")
	}
	return nil
}
