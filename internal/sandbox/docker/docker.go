// Package docker implements sandbox.Provider with one long-lived Docker
// container per sandbox identity.
//
// LIFECYCLE:
//
//	pool (anonymous, pre-warmed) --Sandbox(id)--> bound to id (renamed) --idle--> removed
//
// A container stays bound to its room between submissions, so files a
// candidate wrote earlier are still there. Containers idle for longer than
// Config.IdleTimeout are reaped.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/singleflight"

	"github.com/coderscreen/coderunner/internal/metrics"
	"github.com/coderscreen/coderunner/internal/sandbox"
)

// timeoutExitCode mirrors the unix `timeout` command.
const timeoutExitCode = 124

var _ sandbox.Provider = (*Provider)(nil)

// Provider hands out container-backed sandboxes.
type Provider struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool

	mu        sync.Mutex
	sandboxes map[string]*Sandbox

	claims singleflight.Group

	// claim and release bind and unbind a container; tests replace them.
	claim   func(ctx context.Context, id string) (*Sandbox, error)
	release func(sb *Sandbox)

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Provider, makes sure the image is available, removes
// containers left behind by a previous process and starts the warm pool.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	if err := ensureImage(ctx, cli, cfg.Image, logger); err != nil {
		cli.Close()
		return nil, err
	}

	p := &Provider{
		cli:       cli,
		config:    cfg,
		logger:    logger,
		sandboxes: make(map[string]*Sandbox),
		done:      make(chan struct{}),
	}
	p.claim = p.claimContainer
	p.release = p.releaseContainer
	p.removeStale(ctx)

	p.pool = NewPool(cli, cfg, logger)
	p.pool.Start()

	p.wg.Add(1)
	go p.reaper()

	return p, nil
}

// ensureImage pulls the image unless it is already present locally. The
// polyglot image is usually built on the host, so a pull would fail.
func ensureImage(ctx context.Context, cli *client.Client, ref string, logger *slog.Logger) error {
	images, err := cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	logger.Info("pulling sandbox image", slog.String("image", ref))
	reader, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	logger.Info("sandbox image is ready", slog.String("image", ref))
	return nil
}

// removeStale deletes managed containers from a previous run. Their rooms'
// files are lost, which is acceptable: the in-memory binding is gone too.
func (p *Provider) removeStale(ctx context.Context) {
	stale, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedLabel+"=true")),
	})
	if err != nil {
		p.logger.Warn("failed to list stale sandboxes", slog.String("error", err.Error()))
		return
	}
	for _, c := range stale {
		removeContainer(p.cli, p.logger, c.ID)
	}
	if len(stale) > 0 {
		p.logger.Info("removed stale sandboxes", slog.Int("count", len(stale)))
	}
}

// Sandbox returns the container bound to id, claiming one from the warm pool
// on first use.
//
// p.mu only guards the map. Claiming a container can wait for the pool and
// makes Docker calls, so it runs unlocked: rooms that are already bound never
// wait behind a room that is still being set up. Concurrent first calls for
// the same id share one claim.
func (p *Provider) Sandbox(ctx context.Context, id string) (sandbox.Sandbox, error) {
	if sb, ok := p.lookup(id); ok {
		return sb, nil
	}

	v, err, _ := p.claims.Do(id, func() (any, error) {
		if sb, ok := p.lookup(id); ok {
			return sb, nil
		}
		sb, err := p.claim(ctx, id)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		select {
		case <-p.done:
			p.release(sb)
			return nil, errors.New("docker provider is closed")
		default:
		}
		p.sandboxes[id] = sb
		metrics.ActiveSandboxes.Inc()
		return sb, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Sandbox), nil
}

func (p *Provider) lookup(id string) (*Sandbox, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[id]
	if ok {
		sb.touch()
	}
	return sb, ok
}

// claimContainer takes a container from the pool and renames it after id.
func (p *Provider) claimContainer(ctx context.Context, id string) (*Sandbox, error) {
	containerID, err := p.pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}
	if err := p.cli.ContainerRename(ctx, containerID, id); err != nil {
		p.pool.removeContainer(containerID)
		return nil, fmt.Errorf("failed to bind container to %s: %w", id, err)
	}

	sb := &Sandbox{
		id:          id,
		containerID: containerID,
		cli:         p.cli,
		config:      p.config,
		logger:      p.logger.With(slog.String("sandbox", id)),
	}
	sb.touch()

	p.logger.Info("sandbox bound", slog.String("sandbox", id), slog.String("container", containerID[:12]))
	return sb, nil
}

func (p *Provider) releaseContainer(sb *Sandbox) {
	p.pool.removeContainer(sb.containerID)
}

// Close stops the pool, removes every bound container and closes the client.
func (p *Provider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.pool.Stop()

		p.mu.Lock()
		for id, sb := range p.sandboxes {
			p.release(sb)
			delete(p.sandboxes, id)
			metrics.ActiveSandboxes.Dec()
		}
		p.mu.Unlock()

		err = p.cli.Close()
	})
	return err
}

// reaper removes sandboxes that have been idle for longer than IdleTimeout.
func (p *Provider) reaper() {
	defer p.wg.Done()

	interval := p.config.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle(time.Now())
		}
	}
}

func (p *Provider) reapIdle(now time.Time) {
	p.mu.Lock()
	var idle []*Sandbox
	for id, sb := range p.sandboxes {
		if sb.busy.Load() == 0 && now.Sub(sb.lastUsed()) > p.config.IdleTimeout {
			idle = append(idle, sb)
			delete(p.sandboxes, id)
			metrics.ActiveSandboxes.Dec()
		}
	}
	p.mu.Unlock()

	for _, sb := range idle {
		p.logger.Info("reaping idle sandbox", slog.String("sandbox", sb.id))
		p.release(sb)
	}
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// Sandbox is one container bound to a sandbox identity.
type Sandbox struct {
	id          string
	containerID string
	cli         *client.Client
	config      Config
	logger      *slog.Logger

	busy     atomic.Int32
	lastSeen atomic.Int64 // unix nanos
}

func (s *Sandbox) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Sandbox) lastUsed() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Exec runs a command through `docker exec`, bounded by ExecTimeout.
//
// The command is wrapped in coreutils `timeout` so a runaway program is
// killed inside the container. The context deadline is a second line of
// defence in case the process ignores SIGTERM.
func (s *Sandbox) Exec(ctx context.Context, command string, args ...string) (*sandbox.Result, error) {
	argv := []string{"sh", "-c", command}
	if len(args) > 0 {
		argv = append([]string{command}, args...)
	}
	secs := strconv.Itoa(max(1, int(s.config.ExecTimeout.Seconds())))
	argv = append([]string{"timeout", secs}, argv...)

	executeCtx, cancel := context.WithTimeout(ctx, s.config.ExecTimeout+2*time.Second)
	defer cancel()

	stdout, stderr, exitCode, err := s.run(executeCtx, argv, nil)
	if err != nil {
		if executeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return sandbox.NewResult(command, args, stdout, stderr+"\nExecution timed out.\n", timeoutExitCode), nil
		}
		return nil, err
	}
	if exitCode == timeoutExitCode {
		stderr += "\nExecution timed out.\n"
	}
	return sandbox.NewResult(command, args, stdout, stderr, exitCode), nil
}

// WriteFile streams contents into `cat` over the exec's stdin. The root
// filesystem is read-only, which rules out CopyToContainer.
func (s *Sandbox) WriteFile(ctx context.Context, path, contents string) error {
	_, stderr, exitCode, err := s.run(ctx, []string{"sh", "-c", `cat > "$1"`, "sh", path}, strings.NewReader(contents))
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("writing %s: exit code %d: %s", path, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// DeleteFile removes path with `rm -f`, so a missing file is not an error.
func (s *Sandbox) DeleteFile(ctx context.Context, path string) error {
	_, stderr, exitCode, err := s.run(ctx, []string{"rm", "-f", "--", path}, nil)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("deleting %s: exit code %d: %s", path, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// run executes argv in the container and waits for it, returning the
// demultiplexed output and the exit code. A non-nil error means the Docker
// API call failed or ctx ended before the command finished.
func (s *Sandbox) run(ctx context.Context, argv []string, stdin io.Reader) (string, string, int, error) {
	s.busy.Add(1)
	defer s.busy.Add(-1)
	defer s.touch()

	execResp, err := s.cli.ContainerExecCreate(ctx, s.containerID, container.ExecOptions{
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   s.config.WorkDir,
		Cmd:          argv,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	if stdin != nil {
		go func() {
			if _, err := io.Copy(attachResp.Conn, stdin); err != nil {
				s.logger.Warn("failed to stream stdin", slog.String("error", err.Error()))
			}
			_ = attachResp.CloseWrite()
		}()
	}

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Closing the connection unblocks StdCopy; wait for it so the
		// buffers are no longer written to.
		attachResp.Close()
		<-done
		return stdout.String(), stderr.String(), 0, ctx.Err()
	}

	inspectResp, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return stdout.String(), stderr.String(), inspectResp.ExitCode, nil
}
