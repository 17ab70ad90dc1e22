// Package sandboxtest provides an in-memory sandbox for tests.
//
// A Fake keeps its "filesystem" in a map and answers Exec through a
// Handler supplied by the test, so tests can script toolchains (a compiler
// that rejects a file, a program that prints a greeting) without Docker.
package sandboxtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coderscreen/coderunner/internal/sandbox"
)

// Call is one recorded Exec invocation.
type Call struct {
	Command string
	Args    []string
}

// Handler answers an Exec call. files is the live filesystem; handlers may
// add to it (a compiler producing a binary) while the Fake holds its lock.
type Handler func(command string, args []string, files map[string]string) *sandbox.Result

// Fake is a scripted, in-memory Sandbox. The zero value is not usable; call New.
type Fake struct {
	mu          sync.Mutex
	files       map[string]string
	calls       []Call
	deleted     []string
	inFlight    int
	maxInFlight int

	// Handler answers Exec. A nil Handler makes Exec return (nil, nil),
	// i.e. "the sandbox produced nothing".
	Handler Handler
	// ExecErrors are returned, in order, by the next Exec calls before the
	// Handler is consulted. Use it to simulate transient transport failures.
	ExecErrors []error
	// WriteErr and DeleteErr are returned by every WriteFile/DeleteFile.
	WriteErr  error
	DeleteErr error
	// Delay is slept inside Exec, outside the lock, to widen race windows.
	Delay time.Duration
}

// New returns an empty Fake answering Exec with h.
func New(h Handler) *Fake {
	return &Fake{files: make(map[string]string), Handler: h}
}

var _ sandbox.Sandbox = (*Fake)(nil)

func (f *Fake) Exec(ctx context.Context, command string, args ...string) (*sandbox.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Command: command, Args: append([]string(nil), args...)})
	if len(f.ExecErrors) > 0 {
		err := f.ExecErrors[0]
		f.ExecErrors = f.ExecErrors[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Handler == nil {
		return nil, nil
	}
	return f.Handler(command, args, f.files), nil
}

func (f *Fake) WriteFile(_ context.Context, path, contents string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.files[path] = contents
	return nil
}

func (f *Fake) DeleteFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.files, path)
	return nil
}

// Calls returns every Exec call made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Deleted returns every path passed to DeleteFile, in order.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// File returns the contents of path and whether it exists.
func (f *Fake) File(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.files[path]
	return s, ok
}

// Files returns a copy of the filesystem.
func (f *Fake) Files() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.files))
	for k, v := range f.files {
		out[k] = v
	}
	return out
}

// MaxInFlight is the highest number of Exec calls observed running at once.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// ErrUnavailable is a convenient transport error for tests.
var ErrUnavailable = errors.New("sandboxtest: sandbox unavailable")

// Provider hands out one Fake per sandbox identity, created on first use
// with the same Handler.
type Provider struct {
	mu       sync.Mutex
	handler  Handler
	fakes    map[string]*Fake
	requests []string

	// Err, when set, is returned by Sandbox instead of a Fake.
	Err error
}

// NewProvider returns a Provider whose sandboxes answer Exec with h.
func NewProvider(h Handler) *Provider {
	return &Provider{handler: h, fakes: make(map[string]*Fake)}
}

var _ sandbox.Provider = (*Provider)(nil)

func (p *Provider) Sandbox(_ context.Context, id string) (sandbox.Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, id)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.fake(id), nil
}

// Fake returns the sandbox bound to id, creating it if needed.
func (p *Provider) Fake(id string) *Fake {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fake(id)
}

func (p *Provider) fake(id string) *Fake {
	f, ok := p.fakes[id]
	if !ok {
		f = New(p.handler)
		p.fakes[id] = f
	}
	return f
}

// Requests returns every identity passed to Sandbox, in order.
func (p *Provider) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *Provider) Close() error { return nil }

// Reply is a Handler that answers every command with stdout and exit code 0.
func Reply(stdout string) Handler {
	return func(command string, args []string, _ map[string]string) *sandbox.Result {
		return sandbox.NewResult(command, args, stdout, "", 0)
	}
}
