package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Planner.JobTTL)
	assert.Equal(t, time.Hour, cfg.Planner.FailedJobTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Planner.DeltaInterval)
	assert.True(t, cfg.NATS.Embedded)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid default",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing server addr",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server.addr",
		},
		{
			name:    "missing default model",
			mutate:  func(c *Config) { c.Model.Default = "" },
			wantErr: "model.default",
		},
		{
			name:    "default model has no endpoint",
			mutate:  func(c *Config) { c.Model.Default = "missing" },
			wantErr: "no endpoint",
		},
		{
			name: "endpoint without provider",
			mutate: func(c *Config) {
				c.Model.Endpoints["bad"] = EndpointConfig{Model: "m"}
			},
			wantErr: "provider is required",
		},
		{
			name:    "non-positive job ttl",
			mutate:  func(c *Config) { c.Planner.JobTTL = 0 },
			wantErr: "job_ttl",
		},
		{
			name: "min words above max words",
			mutate: func(c *Config) {
				c.Planner.MinOutputWords = 500
				c.Planner.MaxOutputWords = 100
			},
			wantErr: "min_output_words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planner.yaml")

	content := `
server:
  addr: ":9090"
model:
  default: gpt
  endpoints:
    gpt:
      provider: openai
      model: gpt-4o
planner:
  job_ttl: 5m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "gpt", cfg.Model.Default)
	assert.Equal(t, "openai", cfg.Model.Endpoints["gpt"].Provider)
	assert.Equal(t, 5*time.Minute, cfg.Planner.JobTTL)
	// Defaults survive for keys the file omits
	assert.Equal(t, time.Hour, cfg.Planner.FailedJobTTL)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	other := &Config{}
	other.Server.Addr = ":7070"
	other.NATS.URL = "nats://remote:4222"
	other.Planner.MinOutputWords = 80
	other.Model.Endpoints = map[string]EndpointConfig{
		"local": {Provider: "ollama", Model: "qwen2.5-coder:32b"},
	}

	base.Merge(other)

	assert.Equal(t, ":7070", base.Server.Addr)
	assert.Equal(t, "nats://remote:4222", base.NATS.URL)
	assert.False(t, base.NATS.Embedded, "external NATS URL disables embedded mode")
	assert.Equal(t, 80, base.Planner.MinOutputWords)
	// Endpoint maps merge rather than replace
	assert.Contains(t, base.Model.Endpoints, "local")
	assert.Contains(t, base.Model.Endpoints, "claude-sonnet")
	// Untouched values survive
	assert.Equal(t, 200, base.Planner.MaxOutputWords)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":6060"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", loaded.Server.Addr)
}
