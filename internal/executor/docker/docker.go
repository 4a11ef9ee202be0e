// Package docker runs the Python tracing helper inside pre-warmed, network-less,
// read-only containers instead of on the host.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/codetrace/internal/executor/python"
)

// Runner implements python.Runner using Docker.
type Runner struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *warmPool
}

var _ python.Runner = (*Runner)(nil)

// New connects to the daemon, makes sure the image is present and starts
// warming containers. It fails when the daemon cannot be reached.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	if err := pullImage(cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	return &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
		pool:   newWarmPool(cli, cfg, logger),
	}, nil
}

func pullImage(cli *client.Client, ref string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info("pulling tracer image", slog.String("image", ref))
	progress, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	defer progress.Close()
	// The pull is only complete once the progress stream is drained.
	if _, err := io.Copy(io.Discard, progress); err != nil {
		return fmt.Errorf("pulling %s: %w", ref, err)
	}
	return nil
}

// Close shuts down the container pool and docker client.
func (r *Runner) Close() error {
	r.pool.close()
	return r.cli.Close()
}

// Run executes the tracing helper in a pooled container. The program is streamed
// on stdin, so nothing from the host filesystem is mounted. The caller's context
// carries the deadline.
func (r *Runner) Run(ctx context.Context, job python.Job) (*python.Output, error) {
	containerID, err := r.pool.take(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for a warm container: %w", err)
	}
	// A container serves exactly one run.
	defer r.pool.discard(containerID)

	exec, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "/tmp",
		Cmd:          []string{"python", "-c", string(python.HelperSource), "-"},
	})
	if err != nil {
		return nil, fmt.Errorf("creating tracer exec: %w", err)
	}

	conn, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching to tracer exec: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Conn.Write(job.Source); err != nil {
		return nil, fmt.Errorf("writing source to tracer: %w", err)
	}
	if err := conn.CloseWrite(); err != nil {
		return nil, fmt.Errorf("closing tracer stdin: %w", err)
	}

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, conn.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("reading tracer output: %w", err)
		}
	case <-ctx.Done():
		// Removing the container on return kills the helper.
		return &python.Output{Stderr: []byte("execution timed out")}, ctx.Err()
	}

	out := &python.Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	state, err := r.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return out, fmt.Errorf("inspecting tracer exec: %w", err)
	}
	out.ExitCode = state.ExitCode
	return out, nil
}
