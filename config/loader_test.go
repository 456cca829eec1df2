package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureUserConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planner", "config.yaml")
	t.Setenv(EnvConfigPath, path)

	loader := NewLoader(nil)
	require.NoError(t, loader.EnsureUserConfig())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", loaded.Server.Addr)

	// A second call leaves the existing file alone
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644))
	require.NoError(t, loader.EnsureUserConfig())

	loaded, err = LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
}

func TestLoadOverlaysUserConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)

	// The user layer wins over defaults; untouched fields keep theirs
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.NotEmpty(t, cfg.Model.Default)
	assert.NotEmpty(t, cfg.Repo.Path)
}

func TestLoadMissingUserConfig(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := NewLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
