package config

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "planner.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/planner"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"

	// EnvConfigPath overrides the user config location when set.
	EnvConfigPath = "PLANNER_CONFIG"
)

// Loader resolves configuration from layered sources. Precedence, lowest to
// highest: built-in defaults, the user config, then a project config found
// by walking up from the working directory.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load resolves the layered configuration, fills in the repo path when
// absent, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.overlay(cfg, l.userConfigPath(), "user")
	if path := l.findProjectConfig(); path != "" {
		l.overlay(cfg, path, "project")
	}

	if cfg.Repo.Path == "" {
		cfg.Repo.Path = l.defaultRepoPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay merges the config file at path into cfg. A missing file is
// normal; anything else is worth a warning.
func (l *Loader) overlay(cfg *Config, path, layer string) {
	if path == "" {
		return
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("Failed to load config layer", "layer", layer, "path", path, "error", err)
		}
		return
	}
	l.logger.Debug("Loaded config layer", "layer", layer, "path", path)
	cfg.Merge(loaded)
}

// defaultRepoPath prefers the enclosing git worktree, falling back to the
// working directory.
func (l *Loader) defaultRepoPath() string {
	if root := l.detectGitRoot(); root != "" {
		l.logger.Debug("Auto-detected git root", "path", root)
		return root
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	path := l.userConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	l.logger.Info("Created default user config", "path", path)
	return nil
}

// userConfigPath returns the user config location, honoring the
// PLANNER_CONFIG override.
func (l *Loader) userConfigPath() string {
	if override := os.Getenv(EnvConfigPath); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks from the working directory toward the filesystem
// root looking for a planner.yaml.
func (l *Loader) findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// detectGitRoot finds the git repository root from current directory
func (l *Loader) detectGitRoot() string {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
