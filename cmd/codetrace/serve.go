package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/codetrace/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the codetrace HTTP server.

Endpoints:
  POST /api/execute          run {language, source} and return the trace
  GET  /api/execute/ws       same, streaming events over a websocket
  GET  /api/languages        registered languages
  GET  /api/executions[/id]  journal of past runs
  GET  /metrics, /healthz

Examples:
  codetrace serve
  codetrace serve --port 9090
  CODETRACE_PYTHON_BACKEND=docker codetrace serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(os.Stdout)
	if err != nil {
		return err
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	registry, cleanup := buildRegistry(cfg, logger)
	defer cleanup()

	srv, err := server.New(server.Config{
		Port:            port,
		DBPath:          cfg.Storage.DBPath,
		MaxSourceBytes:  cfg.Limits.MaxSourceBytes,
		RateLimit:       cfg.RateLimiter(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, registry)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start()
}
