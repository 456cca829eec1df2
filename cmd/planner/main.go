// Package main provides the planner binary entry point.
// Planner is a feature planning workflow service: it refines feature
// requests with a panel of agents, discovers relevant files in a
// repository, and generates implementation plans, all served over HTTP
// with SSE streaming.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/headshakers/planner/llm/providers"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "planner"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		repoPath   string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "planner",
		Short: "Feature planning workflow service",
		Long: `Planner turns rough feature requests into reviewed implementation plans.

It provides:
- Multi-agent request refinement with live SSE streaming
- Repository file discovery driven by an agent with file tools
- Implementation plan generation with structural validation
- A four-step workflow with gated transitions and full audit logs

State lives in NATS JetStream key-value buckets; an embedded server is
started when no external NATS URL is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				configPath: configPath,
				repoPath:   repoPath,
				addr:       addr,
				logLevel:   logLevel,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&repoPath, "repo", "", "Repository path the discovery agent inspects")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}
