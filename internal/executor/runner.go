package executor

import (
	"context"
	"errors"
	"time"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/language"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/sandbox"
)

// Phase is the lifecycle position of a CodeRunner.
//
//	created -> setup -> executing -> (compiling -> executing)? -> cleanup -> done
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseSetup
	PhaseExecuting
	PhaseCompiling
	PhaseCleanup
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseSetup:
		return "setup"
	case PhaseExecuting:
		return "executing"
	case PhaseCompiling:
		return "compiling"
	case PhaseCleanup:
		return "cleanup"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// CodeRunner takes one piece of source code from text to a normalized
// result, for one language, inside one sandbox.
//
// A CodeRunner is single use. The Dispatcher calls Setup, then Execute if
// Setup succeeded, then Cleanup exactly once whatever happened before.
type CodeRunner interface {
	// Setup materializes the source in the sandbox. An error here is a
	// SetupFailure and Execute is not called.
	Setup(ctx context.Context) error
	// Execute runs (and, for compiled languages, first compiles) the source.
	// Compile and runtime failures are results, not errors; an error means
	// the sandbox itself failed.
	Execute(ctx context.Context) (*model.ExecutionResult, error)
	// Cleanup removes every artifact Setup or Execute created.
	Cleanup(ctx context.Context) error
	// Phase reports where the runner is in its lifecycle.
	Phase() Phase
}

// runnerState is owned by one runner for the duration of one request.
type runnerState struct {
	phase     Phase
	artifacts []string
	start     time.Time
}

// base carries what every variant needs: the sandbox, the profile, the
// source, and the state machine.
type base struct {
	sb      sandbox.Sandbox
	profile language.Profile
	code    string
	state   runnerState
}

func (b *base) Phase() Phase {
	return b.state.phase
}

func (b *base) enter(p Phase) {
	b.state.phase = p
}

// track records a path for Cleanup. It is called BEFORE the file is
// created, so a half-written file is still removed.
func (b *base) track(path string) {
	b.state.artifacts = append(b.state.artifacts, path)
}

func (b *base) writeSource(ctx context.Context) error {
	path := b.profile.SourceFile
	b.track(path)
	if err := b.sb.WriteFile(ctx, path, b.code); err != nil {
		return apperror.SetupFailed(path, err)
	}
	return nil
}

// exec runs one command and starts the clock on the first call.
func (b *base) exec(ctx context.Context, command string, args ...string) (*sandbox.Result, error) {
	if b.state.start.IsZero() {
		b.state.start = time.Now()
	}
	res, err := b.sb.Exec(ctx, command, args...)
	if err != nil {
		return nil, apperror.SandboxUnavailable("exec", err)
	}
	return res, nil
}

func (b *base) elapsed() time.Duration {
	return time.Since(b.state.start)
}

// Cleanup deletes every tracked artifact. All deletions are attempted; the
// joined error is for logging only.
func (b *base) Cleanup(ctx context.Context) error {
	if b.state.phase == PhaseDone {
		return nil
	}
	b.enter(PhaseCleanup)
	defer b.enter(PhaseDone)

	var errs []error
	for _, path := range b.state.artifacts {
		if err := b.sb.DeleteFile(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
