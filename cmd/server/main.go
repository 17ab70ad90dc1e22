// Package main is the entry point for the coderunner server.
//
// The main package stays minimal. Its job is to:
// 1. Read configuration (internal/config: defaults, config.yaml, CODERUNNER_* env)
// 2. Create dependencies (logger, sandbox provider)
// 3. Start the server
//
// All actual logic lives in imported packages (internal/server, internal/executor, etc.).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/coderscreen/coderunner/internal/config"
	"github.com/coderscreen/coderunner/internal/sandbox"
	"github.com/coderscreen/coderunner/internal/sandbox/docker"
	"github.com/coderscreen/coderunner/internal/sandbox/local"
	"github.com/coderscreen/coderunner/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// === 1. CONFIGURATION AND LOGGING ===
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)

	// === 2. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`. ":memory:" has no directory.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dbDir, err)
		}
	}

	// === 3. SANDBOX PROVIDER ===
	// Nothing here works without a sandbox, so a missing Docker daemon is fatal.
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	retrying := sandbox.WithRetry(provider, sandbox.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, logger)

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Config{
		Port:      cfg.Port,
		DBPath:    cfg.DBPath,
		JWTSecret: cfg.JWTSecret,
		GlobalRPS: cfg.RateLimit.GlobalRPS,
		PerIPRPS:  cfg.RateLimit.PerIPRPS,
		Burst:     cfg.RateLimit.Burst,
		// compile + run, each bounded by the exec timeout, plus retries and I/O.
		WriteTimeout: 2*cfg.Sandbox.ExecTimeout + 30*time.Second,
	}, logger, retrying)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM.
	return srv.Start()
}

func newProvider(cfg *config.Config, logger *slog.Logger) (sandbox.Provider, error) {
	switch cfg.Sandbox.Backend {
	case "local":
		root := cfg.Sandbox.LocalRoot
		if root == "" {
			root = filepath.Join(os.TempDir(), "coderunner")
		}
		return local.New(root, cfg.Sandbox.ExecTimeout, logger)

	default:
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.Sandbox.Image
		dcfg.MemoryLimit = cfg.Sandbox.MemoryMB * 1024 * 1024
		dcfg.CPULimit = cfg.Sandbox.CPUs
		dcfg.ExecTimeout = cfg.Sandbox.ExecTimeout
		dcfg.PoolSize = cfg.Sandbox.PoolSize
		dcfg.IdleTimeout = cfg.Sandbox.IdleTimeout
		if cfg.Sandbox.WorkDir != "" {
			dcfg.WorkDir = cfg.Sandbox.WorkDir
		}

		p, err := docker.New(dcfg, logger)
		if err != nil {
			return nil, fmt.Errorf("docker sandbox unavailable: %w", err)
		}
		return p, nil
	}
}
