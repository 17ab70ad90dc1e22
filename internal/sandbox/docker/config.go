package docker

import (
	"time"
)

// Config holds the configuration for Docker-backed sandboxes.
type Config struct {
	// Image is the Docker image every sandbox runs. It must carry all the
	// toolchains in the language registry (node, tsx, python3, go, rustc,
	// gcc/g++, javac, php, ruby, bash).
	Image string
	// MemoryLimit is the maximum amount of memory a sandbox can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs a sandbox can use.
	CPULimit float64
	// PidsLimit caps the number of processes in a sandbox.
	PidsLimit int64
	// ExecTimeout is the maximum amount of time one command can take.
	ExecTimeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// IdleTimeout is how long a room's sandbox survives without any command.
	IdleTimeout time.Duration
	// WorkDir is where source files are written and commands run.
	WorkDir string
}

// DefaultConfig provides sensible defaults for a polyglot sandbox.
func DefaultConfig() Config {
	return Config{
		Image: "coderunner/polyglot:latest",
		// 512 MB: rustc and javac are hungry
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1,
		PidsLimit:   128,
		ExecTimeout: 15 * time.Second,
		PoolSize:    3,
		IdleTimeout: 30 * time.Minute,
		WorkDir:     "/workspace",
	}
}
