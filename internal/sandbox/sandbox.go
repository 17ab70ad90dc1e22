// Package sandbox is the boundary to the isolated execution environment.
//
// The orchestrator never runs user code itself. It asks a Sandbox to run
// shell commands and to manage files in a filesystem the sandbox owns. The
// concrete environment lives behind this interface:
//
//   - sandbox/docker: one long-lived container per sandbox identity (production)
//   - sandbox/local:  host processes in a scratch directory (development only)
//   - sandbox/sandboxtest: a scripted fake for tests
//
// ERROR CONTRACT:
// A non-nil error from any method means the call itself could not be
// completed (the daemon is down, the connection dropped). That is a transport
// failure and the only kind of failure WithRetry retries. A command that ran
// and exited non-zero is NOT an error: it is a Result with Success=false.
package sandbox

import (
	"context"
	"time"
)

// Result is the sandbox's answer to one command invocation.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	Command   string
	Args      []string
	Timestamp string // RFC 3339, UTC, set when the command completed
}

// Sandbox runs commands and manages files inside one isolated environment.
type Sandbox interface {
	// Exec runs a command in the sandbox working directory.
	//
	// With no args, command is a shell command line and runs under `sh -c`.
	// With args, command is the program and args are passed as argv untouched,
	// so user input never goes through shell parsing.
	//
	// A nil Result with a nil error means the sandbox produced nothing at all.
	Exec(ctx context.Context, command string, args ...string) (*Result, error)

	// WriteFile creates or truncates path, relative to the working directory.
	WriteFile(ctx context.Context, path, contents string) error

	// DeleteFile removes path. Deleting a missing file is not an error.
	DeleteFile(ctx context.Context, path string) error
}

// Provider hands out the Sandbox bound to a sandbox identity. Asking twice for
// the same identity returns the same environment, so files written by an
// earlier execution in a room are still there for the next one.
type Provider interface {
	Sandbox(ctx context.Context, id string) (Sandbox, error)
	Close() error
}

// NewResult builds a Result stamped with the current time.
func NewResult(command string, args []string, stdout, stderr string, exitCode int) *Result {
	return &Result{
		Success:   exitCode == 0,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Command:   command,
		Args:      args,
		Timestamp: Now(),
	}
}

// Now formats the current time the way Result.Timestamp expects.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
