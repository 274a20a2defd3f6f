// Package config loads HelixDB configuration from YAML.
//
// Configuration covers only engine concerns: backend selection, reader
// pool size, arena bounds, query timeout and the embedding provider. The
// gateway in front of the engine carries its own configuration.
//
// Example helix.yaml:
//
//	backend: badger
//	sync_writes: false
//	max_readers: 126
//	arena_limit_bytes: 67108864
//	query_timeout: 30s
//	embedding:
//	  provider: ollama
//	  api_url: http://localhost:11434
//	  model: mxbai-embed-large
//	  dimensions: 1024
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selects the kv environment implementation.
type Backend string

const (
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

// EmbeddingConfig configures the injected embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // ollama, openai, none
	APIURL     string        `yaml:"api_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config is the engine configuration.
type Config struct {
	Backend         Backend         `yaml:"backend"`
	SyncWrites      bool            `yaml:"sync_writes"`
	MaxReaders      int             `yaml:"max_readers"`
	ArenaLimitBytes int             `yaml:"arena_limit_bytes"`
	QueryTimeout    time.Duration   `yaml:"query_timeout"`
	Embedding       EmbeddingConfig `yaml:"embedding"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Backend:         BackendBadger,
		ArenaLimitBytes: 64 << 20,
	}
}

// Load reads a YAML config file, applying defaults for absent fields. The
// OPENAI_API_KEY environment variable overrides the embedding key so the
// secret can stay out of the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.MaxReaders < 0 {
		return fmt.Errorf("config: max_readers must be non-negative")
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("config: query_timeout must be non-negative")
	}
	return nil
}
