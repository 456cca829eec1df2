package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headshakers/planner/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
}

func TestRootFlags(t *testing.T) {
	cmd := rootCmd()

	for _, name := range []string{"config", "repo", "addr", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestResolveRepoPath(t *testing.T) {
	dir := t.TempDir()

	abs, err := resolveRepoPath(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, abs)

	_, err = resolveRepoPath(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = resolveRepoPath(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestBuildEndpoints(t *testing.T) {
	eps := buildEndpoints(config.ModelConfig{
		Endpoints: map[string]config.EndpointConfig{
			"local": {Provider: "ollama", URL: "http://localhost:11434", Model: "llama3", MaxTokens: 2048},
		},
	})

	require.Len(t, eps, 1)
	assert.Equal(t, "ollama", eps["local"].Provider)
	assert.Equal(t, "llama3", eps["local"].Model)
	assert.Equal(t, 2048, eps["local"].MaxTokens)
}

func TestNewLoggerFileRotation(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "planner.log")
	logger, closeLog := newLogger(config.LoggingConfig{
		Level:      "debug",
		File:       logFile,
		MaxSizeMB:  1,
		MaxBackups: 1,
	})
	defer closeLog()

	logger.Debug("hello")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
