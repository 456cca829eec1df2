package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce is how long to wait after a catalog file change before
// reloading, so editors that write in several steps trigger one reload.
const reloadDebounce = 500 * time.Millisecond

// catalogFile is the on-disk YAML catalog format.
type catalogFile struct {
	Agents []catalogEntry `yaml:"agents"`
}

// catalogEntry mirrors Agent but keeps Active optional, defaulting to true.
type catalogEntry struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Role         string   `yaml:"role"`
	Focus        string   `yaml:"focus"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature"`
	Active       *bool    `yaml:"active"`
}

func (e catalogEntry) agent() Agent {
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return Agent{
		ID:           e.ID,
		Name:         e.Name,
		Role:         e.Role,
		Focus:        e.Focus,
		SystemPrompt: e.SystemPrompt,
		Temperature:  e.Temperature,
		Active:       active,
	}
}

// Catalog holds the agent set: built-ins overlaid with the custom YAML file.
// It is read-only to consumers; the only mutation path is Load (directly or
// via the file watcher).
type Catalog struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
}

// NewCatalog creates a catalog backed by the given YAML file path. The file
// is optional; without it the catalog serves the built-in agents.
func NewCatalog(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		path:   path,
		logger: logger,
		agents: make(map[string]Agent),
	}
}

// Load reads the catalog file and rebuilds the agent set. Built-ins come
// first; file entries with a matching ID override them, new IDs append.
// A missing file is not an error.
func (c *Catalog) Load() error {
	agents := make(map[string]Agent)
	var order []string

	for _, a := range Builtins() {
		agents[a.ID] = a
		order = append(order, a.ID)
	}

	if c.path != "" {
		data, err := os.ReadFile(c.path)
		switch {
		case os.IsNotExist(err):
			c.logger.Debug("No custom agent catalog", "path", c.path)
		case err != nil:
			return fmt.Errorf("read agent catalog: %w", err)
		default:
			var file catalogFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse agent catalog: %w", err)
			}
			for _, entry := range file.Agents {
				a := entry.agent()
				if err := a.Validate(); err != nil {
					return fmt.Errorf("agent catalog %s: %w", c.path, err)
				}
				if _, exists := agents[a.ID]; !exists {
					order = append(order, a.ID)
				}
				agents[a.ID] = a
			}
			c.logger.Info("Loaded custom agent catalog",
				"path", c.path,
				"custom_agents", len(file.Agents))
		}
	}

	c.mu.Lock()
	c.agents = agents
	c.order = order
	c.mu.Unlock()

	return nil
}

// Get returns the agent with the given ID.
func (c *Catalog) Get(id string) (Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

// Active returns all active agents in catalog order.
func (c *Catalog) Active() []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Agent
	for _, id := range c.order {
		if a := c.agents[id]; a.Active {
			out = append(out, a)
		}
	}
	return out
}

// ByIDs returns the active agents matching the given IDs, preserving request
// order. Unknown and inactive IDs are skipped.
func (c *Catalog) ByIDs(ids []string) []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Agent
	for _, id := range ids {
		if a, ok := c.agents[id]; ok && a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Watch reloads the catalog when its file changes, until ctx is cancelled.
// The watch is on the parent directory so replace-by-rename saves are seen.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return fmt.Errorf("catalog has no file path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go c.watchLoop(ctx, watcher)

	c.logger.Info("Watching agent catalog", "path", c.path)
	return nil
}

// watchLoop debounces file events and reloads the catalog.
func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("Agent catalog watcher error", "error", err)

		case <-timerC:
			if err := c.Load(); err != nil {
				// Keep serving the previous catalog on a bad edit
				c.logger.Error("Agent catalog reload failed", "path", c.path, "error", err)
			} else {
				c.logger.Info("Agent catalog reloaded", "path", c.path)
			}
		}
	}
}
