// Package config provides configuration loading and management for the
// feature planning service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Repo    RepoConfig    `yaml:"repo"`
	NATS    NATSConfig    `yaml:"nats"`
	Agents  AgentsConfig  `yaml:"agents"`
	Planner PlannerConfig `yaml:"planner"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	// Addr is the listen address (default: ":8080")
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig configures the LLM endpoints
type ModelConfig struct {
	// Default is the default model name used when a request carries no override
	Default string `yaml:"default"`
	// Endpoints maps model names to provider endpoints
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	// CallTimeout bounds a single agent invocation, including streaming
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// EndpointConfig describes one LLM provider endpoint
type EndpointConfig struct {
	// Provider is the adapter name ("anthropic", "openai", "ollama")
	Provider string `yaml:"provider"`
	// URL is the API base URL (empty = provider default)
	URL string `yaml:"url"`
	// Model is the provider-side model identifier
	Model string `yaml:"model"`
	// MaxTokens limits response length (0 = provider default)
	MaxTokens int `yaml:"max_tokens"`
}

// RepoConfig configures the repository the discovery agent inspects
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to run an embedded JetStream server
	Embedded bool `yaml:"embedded"`
	// StoreDir is the embedded server's storage directory (empty = in-memory)
	StoreDir string `yaml:"store_dir"`
}

// AgentsConfig configures the refinement agent catalog
type AgentsConfig struct {
	// CatalogPath is the YAML file holding custom agent definitions
	CatalogPath string `yaml:"catalog_path"`
	// Watch enables hot reload of the catalog file
	Watch bool `yaml:"watch"`
}

// PlannerConfig configures workflow engine behavior
type PlannerConfig struct {
	// JobTTL is how long a pending/in-progress job record stays visible
	JobTTL time.Duration `yaml:"job_ttl"`
	// FailedJobTTL is how long a failed job record is retained for diagnostics
	FailedJobTTL time.Duration `yaml:"failed_job_ttl"`
	// DeltaInterval is the minimum spacing between SSE delta events
	DeltaInterval time.Duration `yaml:"delta_interval"`
	// MinOutputWords and MaxOutputWords bound refinement output length
	MinOutputWords int `yaml:"min_output_words"`
	MaxOutputWords int `yaml:"max_output_words"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
	// File enables rotating file output when set (empty = stderr only)
	File string `yaml:"file"`
	// MaxSizeMB is the rotation threshold for the log file
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep
	MaxBackups int `yaml:"max_backups"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Model: ModelConfig{
			Default: "claude-sonnet",
			Endpoints: map[string]EndpointConfig{
				"claude-sonnet": {
					Provider: "anthropic",
					Model:    "claude-sonnet-4-5",
				},
			},
			CallTimeout: 2 * time.Minute,
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Agents: AgentsConfig{
			CatalogPath: "agents.yaml",
			Watch:       true,
		},
		Planner: PlannerConfig{
			JobTTL:         10 * time.Minute,
			FailedJobTTL:   time.Hour,
			DeltaInterval:  100 * time.Millisecond,
			MinOutputWords: 50,
			MaxOutputWords: 200,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if _, ok := c.Model.Endpoints[c.Model.Default]; !ok {
		return fmt.Errorf("model.default %q has no endpoint", c.Model.Default)
	}
	for name, ep := range c.Model.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("model.endpoints.%s: provider is required", name)
		}
		if ep.Model == "" {
			return fmt.Errorf("model.endpoints.%s: model is required", name)
		}
	}
	if c.Planner.JobTTL <= 0 {
		return fmt.Errorf("planner.job_ttl must be positive")
	}
	if c.Planner.FailedJobTTL <= 0 {
		return fmt.Errorf("planner.failed_job_ttl must be positive")
	}
	if c.Planner.DeltaInterval <= 0 {
		return fmt.Errorf("planner.delta_interval must be positive")
	}
	if c.Planner.MinOutputWords > c.Planner.MaxOutputWords {
		return fmt.Errorf("planner.min_output_words exceeds max_output_words")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if len(other.Model.Endpoints) > 0 {
		if c.Model.Endpoints == nil {
			c.Model.Endpoints = make(map[string]EndpointConfig)
		}
		for name, ep := range other.Model.Endpoints {
			c.Model.Endpoints[name] = ep
		}
	}
	if other.Model.CallTimeout != 0 {
		c.Model.CallTimeout = other.Model.CallTimeout
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}

	// Agents
	if other.Agents.CatalogPath != "" {
		c.Agents.CatalogPath = other.Agents.CatalogPath
	}

	// Planner
	if other.Planner.JobTTL != 0 {
		c.Planner.JobTTL = other.Planner.JobTTL
	}
	if other.Planner.FailedJobTTL != 0 {
		c.Planner.FailedJobTTL = other.Planner.FailedJobTTL
	}
	if other.Planner.DeltaInterval != 0 {
		c.Planner.DeltaInterval = other.Planner.DeltaInterval
	}
	if other.Planner.MinOutputWords != 0 {
		c.Planner.MinOutputWords = other.Planner.MinOutputWords
	}
	if other.Planner.MaxOutputWords != 0 {
		c.Planner.MaxOutputWords = other.Planner.MaxOutputWords
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxBackups != 0 {
		c.Logging.MaxBackups = other.Logging.MaxBackups
	}
}
