package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/sakif/codetrace/internal/metrics"
)

const (
	refillBackoff  = time.Second
	refillInterval = 100 * time.Millisecond
	createTimeout  = 10 * time.Second
	removeTimeout  = 5 * time.Second
)

// warmPool keeps up to PoolSize idle tracer containers running so a run only
// pays for an exec, not a container start. Each container serves one run.
type warmPool struct {
	cli    *client.Client
	cfg    Config
	logger *slog.Logger

	idle   chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWarmPool(cli *client.Client, cfg Config, logger *slog.Logger) *warmPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &warmPool{
		cli:    cli,
		cfg:    cfg,
		logger: logger,
		idle:   make(chan string, cfg.PoolSize),
		cancel: cancel,
	}
	logger.Info("docker pool starting", slog.Int("size", cfg.PoolSize))
	p.wg.Add(1)
	go p.refill(ctx)
	return p
}

// take hands out an idle container, waiting for the refiller if none is ready.
func (p *warmPool) take(ctx context.Context) (string, error) {
	select {
	case id := <-p.idle:
		metrics.PoolIdleContainers.Set(float64(len(p.idle)))
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// close stops the refiller and removes every idle container.
func (p *warmPool) close() {
	p.cancel()
	p.wg.Wait()
	for {
		select {
		case id := <-p.idle:
			p.discard(id)
		default:
			metrics.PoolIdleContainers.Set(0)
			p.logger.Info("docker pool stopped")
			return
		}
	}
}

func (p *warmPool) refill(ctx context.Context) {
	defer p.wg.Done()

	for {
		wait := refillInterval
		if len(p.idle) < cap(p.idle) {
			id, err := p.start(ctx)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				p.logger.Error("warming container", slog.String("error", err.Error()))
				wait = refillBackoff
			default:
				select {
				case p.idle <- id:
					metrics.PoolIdleContainers.Set(float64(len(p.idle)))
					continue
				case <-ctx.Done():
					p.discard(id)
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// start creates an idle container that only sleeps until a run execs into it.
func (p *warmPool) start(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	began := time.Now()
	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image: p.cfg.Image,
			Cmd:   []string{"sleep", "infinity"},
			User:  "nobody",
			Env:   []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
		},
		&container.HostConfig{
			NetworkMode:    "none",
			ReadonlyRootfs: true,
			Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=" + p.cfg.ScratchSize},
			Resources: container.Resources{
				Memory:   p.cfg.MemoryLimit,
				NanoCPUs: int64(p.cfg.CPULimit * 1e9),
			},
		}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.discard(resp.ID)
		return "", fmt.Errorf("starting container %s: %w", resp.ID, err)
	}

	metrics.ContainerCreationTime.Observe(float64(time.Since(began).Milliseconds()))
	return resp.ID, nil
}

// discard force-removes a container, logging but otherwise ignoring failures.
func (p *warmPool) discard(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("removing container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
