package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/headshakers/planner/agent"
	"github.com/headshakers/planner/config"
	"github.com/headshakers/planner/job"
	"github.com/headshakers/planner/llm"
	"github.com/headshakers/planner/metrics"
	"github.com/headshakers/planner/planner"
	"github.com/headshakers/planner/server"
	"github.com/headshakers/planner/store"
	"github.com/headshakers/planner/tools/file"
)

// runOptions carries the command-line overrides into run.
type runOptions struct {
	configPath string
	repoPath   string
	addr       string
	logLevel   string
}

func run(ctx context.Context, opts runOptions) error {
	printBanner()

	var cfg *config.Config
	if opts.configPath != "" {
		loaded, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		// Layered defaults: user config overlaid with any project config
		// found at the repo root. First run writes the user config so
		// operators have a file to edit.
		loader := config.NewLoader(slog.Default())
		if err := loader.EnsureUserConfig(); err != nil {
			slog.Warn("Failed to create default user config", "error", err)
		}
		loaded, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if opts.repoPath != "" {
		cfg.Repo.Path = opts.repoPath
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog := newLogger(cfg.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	repoPath, err := resolveRepoPath(cfg.Repo.Path)
	if err != nil {
		return err
	}

	// NATS: external when a URL is configured, embedded otherwise
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	js, closeNATS, err := connectJetStream(signalCtx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer closeNATS()

	st, err := store.NewStore(signalCtx, js)
	if err != nil {
		return fmt.Errorf("create workflow store: %w", err)
	}

	jobs, err := job.NewStore(signalCtx, js, cfg.Planner.JobTTL, cfg.Planner.FailedJobTTL)
	if err != nil {
		return fmt.Errorf("create job store: %w", err)
	}

	// Agent catalog with optional hot reload
	catalog := agent.NewCatalog(cfg.Agents.CatalogPath, logger)
	if err := catalog.Load(); err != nil {
		return fmt.Errorf("load agent catalog: %w", err)
	}
	if cfg.Agents.Watch {
		if err := catalog.Watch(signalCtx); err != nil {
			logger.Warn("Agent catalog watch unavailable", "error", err)
		}
	}

	client := llm.NewClient(cfg.Model.Default, buildEndpoints(cfg.Model), llm.WithLogger(logger))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	pl := planner.New(client, catalog, st, file.NewExecutor(repoPath, logger), m, planner.Config{
		CallTimeout:    cfg.Model.CallTimeout,
		MinOutputWords: cfg.Planner.MinOutputWords,
		MaxOutputWords: cfg.Planner.MaxOutputWords,
	}, logger)

	srv := server.New(jobs, st, pl, m, cfg.Planner.DeltaInterval, logger)

	mux := http.NewServeMux()
	srv.RegisterHandlers(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("Planner ready",
		"version", Version,
		"repo_path", repoPath,
		"default_model", cfg.Model.Default,
		"agents", len(catalog.Active()))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-signalCtx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}

	logger.Info("Planner shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Planner v" + Version + "                    ║")
	fmt.Println("║      Feature Planning Workflow Service        ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// newLogger builds the slog logger per the logging config, returning a
// closer for the rotating file writer when one is configured.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, func()) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	closer := func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closer = func() { _ = rotator.Close() }
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer
}

// resolveRepoPath turns the configured path (or the working directory when
// empty) into an absolute directory path.
func resolveRepoPath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve repo path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat repo path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// connectJetStream connects to the configured NATS server, starting an
// embedded one when no external URL is given.
func connectJetStream(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (jetstream.JetStream, func(), error) {
	url := cfg.URL
	var shutdown func()

	if url == "" || cfg.Embedded {
		opts := &natsserver.Options{
			Port:      -1,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}
		if cfg.StoreDir != "" {
			opts.StoreDir = cfg.StoreDir
		} else {
			dir, err := os.MkdirTemp("", "planner-nats-*")
			if err != nil {
				return nil, nil, fmt.Errorf("create NATS store dir: %w", err)
			}
			opts.StoreDir = dir
		}

		ns, err := natsserver.NewServer(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, nil, fmt.Errorf("embedded NATS server failed to start")
		}
		url = ns.ClientURL()
		shutdown = ns.Shutdown
		logger.Info("Embedded NATS server started", "url", url, "store_dir", opts.StoreDir)
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		if shutdown != nil {
			shutdown()
		}
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		if shutdown != nil {
			shutdown()
		}
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}

	closer := func() {
		conn.Close()
		if shutdown != nil {
			shutdown()
		}
	}
	return js, closer, nil
}

// buildEndpoints converts the config endpoint map to the client's type.
func buildEndpoints(cfg config.ModelConfig) map[string]llm.Endpoint {
	endpoints := make(map[string]llm.Endpoint, len(cfg.Endpoints))
	for name, ep := range cfg.Endpoints {
		endpoints[name] = llm.Endpoint{
			Provider:  ep.Provider,
			URL:       ep.URL,
			Model:     ep.Model,
			MaxTokens: ep.MaxTokens,
		}
	}
	return endpoints
}
