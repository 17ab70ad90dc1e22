// Package local implements sandbox.Provider with plain host processes.
//
// Every sandbox identity gets its own directory under a root directory and
// commands run there with os/exec. There is NO isolation: user code runs with
// the server's privileges. Use it for development and tests on a machine that
// has the toolchains installed, never in production.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coderscreen/coderunner/internal/sandbox"
)

const timeoutExitCode = 124

var _ sandbox.Provider = (*Provider)(nil)

// Provider hands out directory-backed sandboxes under root.
type Provider struct {
	root    string
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	sandboxes map[string]*Sandbox
}

// New creates root if needed and returns a Provider rooted there. Each
// command is killed after timeout.
func New(root string, timeout time.Duration, logger *slog.Logger) (*Provider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local: creating root %s: %w", root, err)
	}
	logger.Warn("local sandbox backend enabled: user code runs unisolated on this host",
		slog.String("root", root),
	)
	return &Provider{
		root:      root,
		timeout:   timeout,
		logger:    logger,
		sandboxes: make(map[string]*Sandbox),
	}, nil
}

func (p *Provider) Sandbox(_ context.Context, id string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sb, ok := p.sandboxes[id]; ok {
		return sb, nil
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("local: invalid sandbox id %q", id)
	}

	dir := filepath.Join(p.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local: creating sandbox dir: %w", err)
	}
	sb := &Sandbox{dir: dir, timeout: p.timeout}
	p.sandboxes[id] = sb
	return sb, nil
}

// Close removes every sandbox directory this Provider created.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, sb := range p.sandboxes {
		if err := os.RemoveAll(sb.dir); err != nil {
			errs = append(errs, err)
		}
		delete(p.sandboxes, id)
	}
	return errors.Join(errs...)
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// Sandbox is one scratch directory.
type Sandbox struct {
	dir     string
	timeout time.Duration
}

// Dir is the working directory of the sandbox.
func (s *Sandbox) Dir() string {
	return s.dir
}

func (s *Sandbox) Exec(ctx context.Context, command string, args ...string) (*sandbox.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if len(args) == 0 {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	} else {
		cmd = exec.CommandContext(execCtx, command, args...) //nolint:gosec // argv is never shell parsed
	}
	cmd.Dir = s.dir
	// Children of a killed shell can hold the pipes open; stop waiting for them.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			exitCode = timeoutExitCode
			stderr.WriteString("\nExecution timed out.\n")
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			// The program could not be started at all (e.g. not installed):
			// report it like a shell would.
			exitCode = 127
			stderr.WriteString(err.Error())
		}
	}

	return sandbox.NewResult(command, args, stdout.String(), stderr.String(), exitCode), nil
}

func (s *Sandbox) WriteFile(_ context.Context, path, contents string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local: creating parent of %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("local: writing %s: %w", path, err)
	}
	return nil
}

func (s *Sandbox) DeleteFile(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("local: deleting %s: %w", path, err)
	}
	return nil
}

// resolve joins path onto the sandbox directory, refusing anything that
// would escape it.
func (s *Sandbox) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("local: absolute path not allowed: %s", path)
	}
	full := filepath.Join(s.dir, path)
	rel, err := filepath.Rel(s.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local: path escapes sandbox: %s", path)
	}
	return full, nil
}
