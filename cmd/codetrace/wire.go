package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sakif/codetrace/internal/config"
	"github.com/sakif/codetrace/internal/executor/docker"
	"github.com/sakif/codetrace/internal/executor/javascript"
	"github.com/sakif/codetrace/internal/executor/python"
	"github.com/sakif/codetrace/internal/model"
	"github.com/sakif/codetrace/internal/service"
)

// setup loads configuration and builds the logger every command starts from.
func setup(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, config.NewLogger(cfg.Log, logOut), nil
}

// buildRegistry wires both pathways. The returned cleanup releases the Docker
// pool when that backend is in use.
//
// The Docker backend is optional: if the daemon cannot be reached the host
// interpreter is used instead, so the service still starts.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*service.Registry, func()) {
	reg := service.NewRegistry()
	cleanup := func() {}

	reg.Register(model.JavaScript, javascript.NewRunner(cfg.JavaScriptRunner(), logger), "js")

	var bridge *python.Bridge
	if cfg.Python.Backend == config.BackendDocker {
		runner, err := docker.New(cfg.DockerRunner(), logger)
		if err != nil {
			logger.Warn("Docker backend unavailable, falling back to the host interpreter",
				slog.String("error", err.Error()),
			)
		} else {
			cleanup = func() {
				if err := runner.Close(); err != nil {
					logger.Warn("closing docker backend", slog.String("error", err.Error()))
				}
			}
			bridge = python.New(cfg.PythonBridge(), runner, nil, logger)
		}
	}
	if bridge == nil {
		resolver := python.NewResolver(cfg.Python.Candidates, cfg.Python.ProbeTTL)
		bridge = python.New(cfg.PythonBridge(), python.LocalRunner{}, resolver, logger)
	}
	reg.Register(model.Python, bridge, "py")

	return reg, cleanup
}
