package executor

import (
	"context"

	"github.com/coderscreen/coderunner/internal/language"
	"github.com/coderscreen/coderunner/internal/model"
	"github.com/coderscreen/coderunner/internal/sandbox"
)

type runnerFactory func(sb sandbox.Sandbox, profile language.Profile, code string) CodeRunner

// factories selects the CodeRunner variant of every supported language.
// Adding a language means a registry entry plus a line here; the Dispatcher
// does not change.
var factories = map[string]runnerFactory{
	language.Bash:       newBashRunner,
	language.JavaScript: newScriptRunner,
	language.TypeScript: newScriptRunner,
	language.Python:     newScriptRunner,
	language.Ruby:       newScriptRunner,
	language.PHP:        newScriptRunner,
	language.Go:         newScriptRunner,
	language.Rust:       newCompiledRunner,
	language.C:          newCompiledRunner,
	language.CPP:        newCompiledRunner,
	language.Java:       newCompiledRunner,
}

// bashRunner passes the source inline to `bash -c`. Nothing is written, so
// there is nothing to clean up.
type bashRunner struct {
	base
}

func newBashRunner(sb sandbox.Sandbox, profile language.Profile, code string) CodeRunner {
	return &bashRunner{base{sb: sb, profile: profile, code: code}}
}

func (r *bashRunner) Setup(context.Context) error {
	r.enter(PhaseSetup)
	return nil
}

func (r *bashRunner) Execute(ctx context.Context) (*model.ExecutionResult, error) {
	r.enter(PhaseExecuting)
	raw, err := r.exec(ctx, r.profile.Run("", ""), "-c", r.code)
	if err != nil {
		return nil, err
	}
	res := Normalize(raw, r.elapsed())
	return &res, nil
}

// scriptRunner writes the source to the language's temp file and hands it to
// the interpreter (or to `go run`, which compiles and runs in one command).
type scriptRunner struct {
	base
}

func newScriptRunner(sb sandbox.Sandbox, profile language.Profile, code string) CodeRunner {
	return &scriptRunner{base{sb: sb, profile: profile, code: code}}
}

func (r *scriptRunner) Setup(ctx context.Context) error {
	r.enter(PhaseSetup)
	return r.writeSource(ctx)
}

func (r *scriptRunner) Execute(ctx context.Context) (*model.ExecutionResult, error) {
	r.enter(PhaseExecuting)
	raw, err := r.exec(ctx, r.profile.Run(r.profile.SourceFile, ""))
	if err != nil {
		return nil, err
	}
	res := Normalize(raw, r.elapsed())
	return &res, nil
}

// compiledRunner compiles to a fixed output path and runs the output only if
// compilation succeeded. java uses it too: its output is Solution.class and
// its run command names the class.
type compiledRunner struct {
	base
}

func newCompiledRunner(sb sandbox.Sandbox, profile language.Profile, code string) CodeRunner {
	return &compiledRunner{base{sb: sb, profile: profile, code: code}}
}

func (r *compiledRunner) Setup(ctx context.Context) error {
	r.enter(PhaseSetup)
	return r.writeSource(ctx)
}

// Execute reports compileTime on every path. On a failed compile the result
// is the compiler's own, returned without running anything, and elapsedTime
// covers the compile step only.
func (r *compiledRunner) Execute(ctx context.Context) (*model.ExecutionResult, error) {
	r.enter(PhaseExecuting)
	src, out := r.profile.SourceFile, r.profile.Executable

	// The compiler may leave a partial output behind even when it fails.
	r.track(out)

	r.enter(PhaseCompiling)
	compiled, err := r.exec(ctx, r.profile.Compile(src, out))
	if err != nil {
		return nil, err
	}
	compileElapsed := r.elapsed()
	compileTime := millis(compileElapsed)

	if compiled == nil || !compiled.Success {
		res := Normalize(compiled, compileElapsed)
		res.CompileTime = &compileTime
		return &res, nil
	}

	r.enter(PhaseExecuting)
	raw, err := r.exec(ctx, r.profile.Run(src, out))
	if err != nil {
		return nil, err
	}
	res := Normalize(raw, r.elapsed())
	res.CompileTime = &compileTime
	return &res, nil
}
