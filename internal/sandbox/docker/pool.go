package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/coderscreen/coderunner/internal/metrics"
)

// managedLabel is put on every container this package creates. Stale
// containers from a previous process are found (and removed) by it.
const managedLabel = "coderunner.managed"

// Pool manages a pool of pre-warmed Docker containers.
//
// A room's first execution would otherwise pay for a full container start.
// Instead the pool keeps PoolSize anonymous containers idling on
// `sleep infinity`, and the provider claims one and renames it after the
// sandbox identity.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startDone  sync.Once
	stopDone   sync.Once
}

// NewPool initializes a new container pool wrapper. The pool holds at least
// one container: with none, GetContainer would never return.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	cfg.PoolSize = max(1, cfg.PoolSize)
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool with fresh containers in the background.
func (p *Pool) Start() {
	p.startDone.Do(func() {
		p.logger.Info("starting docker container pool manager", slog.Int("poolSize", p.config.PoolSize))
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and cleans up all pre-warmed containers.
func (p *Pool) Stop() {
	p.stopDone.Do(func() {
		p.logger.Info("shutting down docker container pool")
		close(p.done)
		p.wg.Wait()

		// Drain channel and remove surviving containers
		for {
			select {
			case id := <-p.containers:
				p.removeContainer(id)
			default:
				return
			}
		}
	})
}

// GetContainer returns a ready-to-use container ID from the pool.
// It blocks until one is available or the context is canceled.
func (p *Pool) GetContainer(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("container pool is stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// manager continuously ensures the pool is at capacity.
func (p *Pool) manager() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		default:
			if len(p.containers) < cap(p.containers) {
				id, err := p.createContainer()
				if err != nil {
					p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
					p.sleep(time.Second) // backoff on failure
					continue
				}

				select {
				case p.containers <- id:
				case <-p.done:
					p.removeContainer(id)
					return
				}
			} else {
				p.sleep(100 * time.Millisecond)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-p.done:
	}
}

// createContainer starts a locked-down container running `sleep infinity`.
//
// The root filesystem is read-only. The working directory and /tmp are
// tmpfs mounts with exec allowed, because compiled binaries and `go run`
// build output must be executable.
func (p *Pool) createContainer() (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pidsLimit := p.config.PidsLimit
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     p.config.MemoryLimit,
			MemorySwap: p.config.MemoryLimit, // no swap
			NanoCPUs:   int64(p.config.CPULimit * 1e9),
			PidsLimit:  &pidsLimit,
		},
		AutoRemove:     false,
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Tmpfs: map[string]string{
			p.config.WorkDir: "rw,exec,nosuid,size=128m,mode=1777",
			"/tmp":           "rw,exec,nosuid,size=256m,mode=1777",
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:           p.config.Image,
		Cmd:             []string{"sleep", "infinity"},
		Tty:             false,
		NetworkDisabled: true,
		WorkingDir:      p.config.WorkDir,
		User:            "nobody",
		Env: []string{
			"HOME=" + p.config.WorkDir,
			"GOCACHE=/tmp/go-build",
			"GOPATH=/tmp/go",
		},
		Labels: map[string]string{managedLabel: "true"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	metrics.ContainerCreationTime.Observe(float64(time.Since(start).Milliseconds()))
	return resp.ID, nil
}

func (p *Pool) removeContainer(id string) {
	removeContainer(p.cli, p.logger, id)
}

// removeContainer force removes a container by ID.
func removeContainer(cli *client.Client, logger *slog.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force: true,
	})
	if err != nil {
		logger.Warn("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
