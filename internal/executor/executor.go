// Package executor turns an ExecutionRequest into an ExecutionResult.
//
// THE PIECES:
//
//	Dispatcher : resolves the room's sandbox, picks a CodeRunner, drives it
//	CodeRunner : per-language setup / execute / cleanup (runners.go)
//	Normalize  : raw sandbox answer → ExecutionResult (normalize.go)
//
// The Dispatcher owns no language-specific logic. It only knows the
// CodeRunner capability set, which keeps every language a local change.
//
// FAILURE CLASSES:
//
//	unsupported language  → apperror.ErrUnsupported, nothing runs
//	setup failure         → apperror.ErrSetup, cleanup still runs
//	sandbox call failed   → apperror.ErrTransport (retried by sandbox.WithRetry)
//	compile failure       → result with Success=false, run step skipped
//	runtime failure       → result with Success=false and the exit code
//	sandbox said nothing  → EmptyResponse, never an error
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coderscreen/coderunner/internal/apperror"
	"github.com/coderscreen/coderunner/internal/language"
	"github.com/coderscreen/coderunner/internal/metrics"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/sandbox"
)

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error)
}

// DefaultCleanupTimeout bounds how long cleanup may take after the request
// context is gone.
const DefaultCleanupTimeout = 10 * time.Second

var _ Executor = (*Dispatcher)(nil)

// Dispatcher is the Executor backed by a sandbox.Provider.
type Dispatcher struct {
	provider       sandbox.Provider
	locks          *keyedLock
	logger         *slog.Logger
	cleanupTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. The provider is injected so tests can
// hand in a fake sandbox and main can decorate the real one with retries.
func NewDispatcher(provider sandbox.Provider, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider:       provider,
		locks:          newKeyedLock(),
		logger:         logger,
		cleanupTimeout: DefaultCleanupTimeout,
	}
}

// Execute runs req to completion in the room's sandbox.
//
// Executions in the same sandbox are serialized; executions in different
// rooms run in parallel. If ctx ends while waiting for the sandbox, Execute
// returns ctx's error without running anything.
func (d *Dispatcher) Execute(ctx context.Context, req model.ExecutionRequest) (*model.ExecutionResult, error) {
	id := sandbox.ResolveID(req.RoomID, req.Language)

	profile, ok := language.Lookup(req.Language)
	factory, hasRunner := factories[req.Language]
	if !ok || !hasRunner {
		metrics.ExecutionsTotal.WithLabelValues(req.Language, metrics.OutcomeUnsupported).Inc()
		if language.IsFramework(req.Language) {
			return nil, apperror.FrameworkLanguage(req.Language)
		}
		return nil, apperror.UnsupportedLanguage(req.Language)
	}

	logger := d.logger.With(
		slog.String("room", req.RoomID),
		slog.String("sandbox", id),
		slog.String("language", req.Language),
	)

	release, err := d.locks.Acquire(ctx, id)
	if err != nil {
		d.record(ctx, req.Language, nil, err)
		return nil, fmt.Errorf("waiting for sandbox %s: %w", id, err)
	}
	defer release()

	sb, err := d.provider.Sandbox(ctx, id)
	if err != nil {
		d.record(ctx, req.Language, nil, apperror.ErrTransport)
		return nil, apperror.SandboxUnavailable("acquire", err)
	}

	runner := factory(sb, profile, req.Code)
	res, err := d.drive(ctx, runner, logger)
	d.record(ctx, req.Language, res, err)
	if err != nil {
		logger.Error("execution failed", slog.String("error", err.Error()))
		return nil, err
	}

	logger.Info("execution finished",
		slog.String("id", res.ID),
		slog.Bool("success", res.Success),
		slog.Int("exitCode", res.ExitCode),
		slog.Int64("elapsedMs", res.ElapsedTime),
	)
	return res, nil
}

// drive runs the lifecycle: setup, execute, and always cleanup.
//
// Cleanup runs on a context detached from the caller's cancellation, because
// a caller who gave up must not leave temp files behind for the next
// submission in the room. Cleanup errors are logged and never replace the
// result.
func (d *Dispatcher) drive(ctx context.Context, r CodeRunner, logger *slog.Logger) (*model.ExecutionResult, error) {
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
		defer cancel()

		if err := r.Cleanup(cleanupCtx); err != nil {
			logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}()

	if err := r.Setup(ctx); err != nil {
		return nil, err
	}
	return r.Execute(ctx)
}

// record counts one execution. An error while ctx is done is counted as
// cancelled whatever layer reported it.
func (d *Dispatcher) record(ctx context.Context, lang string, res *model.ExecutionResult, err error) {
	outcome := metrics.OutcomeFailed
	switch {
	case err != nil && ctx.Err() != nil:
		outcome = metrics.OutcomeCancelled
	case errors.Is(err, apperror.ErrSetup):
		outcome = metrics.OutcomeSetupFailed
	case err != nil:
		outcome = metrics.OutcomeSandboxUnavailable
	case res.Success:
		outcome = metrics.OutcomeSuccess
	case res.Stderr == NoOutputMessage && res.ExitCode == -1:
		outcome = metrics.OutcomeNoOutput
	}
	metrics.ExecutionsTotal.WithLabelValues(lang, outcome).Inc()

	if res != nil {
		metrics.ExecutionDuration.WithLabelValues(lang, "total").Observe(float64(res.ElapsedTime))
		if res.CompileTime != nil {
			metrics.ExecutionDuration.WithLabelValues(lang, "compile").Observe(float64(*res.CompileTime))
		}
	}
}
