package local

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, timeout time.Duration) *Provider {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p, err := New(t.TempDir(), timeout, logger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSandbox_ExecShellCommand(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)
	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)

	res, err := sb.Exec(context.Background(), "echo hello; echo oops >&2; exit 3")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, "echo hello; echo oops >&2; exit 3", res.Command)
	_, err = time.Parse(time.RFC3339Nano, res.Timestamp)
	assert.NoError(t, err)
}

func TestSandbox_ExecArgvIsNotShellParsed(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)
	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)

	res, err := sb.Exec(context.Background(), "sh", "-c", `echo "$0"`, "a b; c")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a b; c\n", res.Stdout)
	assert.Equal(t, []string{"-c", `echo "$0"`, "a b; c"}, res.Args)
}

func TestSandbox_ExecMissingProgram(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)
	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)

	res, err := sb.Exec(context.Background(), "definitely-not-a-real-binary", "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 127, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
}

func TestSandbox_ExecTimeout(t *testing.T) {
	p := newTestProvider(t, 200*time.Millisecond)
	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)

	res, err := sb.Exec(context.Background(), "sleep 5")
	require.NoError(t, err)
	assert.Equal(t, 124, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}

func TestSandbox_FilesAreScopedToSandbox(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)
	a, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)
	b, err := p.Sandbox(context.Background(), "sbx-b")
	require.NoError(t, err)

	require.NoError(t, a.WriteFile(context.Background(), "tmp.py", "print('a')"))

	res, err := a.Exec(context.Background(), "cat tmp.py")
	require.NoError(t, err)
	assert.Equal(t, "print('a')", res.Stdout)

	res, err = b.Exec(context.Background(), "test -e tmp.py")
	require.NoError(t, err)
	assert.False(t, res.Success, "file leaked into another sandbox")

	require.NoError(t, a.DeleteFile(context.Background(), "tmp.py"))
	require.NoError(t, a.DeleteFile(context.Background(), "tmp.py"))
	_, err = os.Stat(filepath.Join(a.(*Sandbox).Dir(), "tmp.py"))
	assert.True(t, os.IsNotExist(err))
}

func TestSandbox_RejectsEscapingPaths(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)
	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)

	assert.Error(t, sb.WriteFile(context.Background(), "../escape.txt", "x"))
	assert.Error(t, sb.WriteFile(context.Background(), "/etc/passwd", "x"))
	assert.Error(t, sb.DeleteFile(context.Background(), "../../x"))
}

func TestProvider_SameIdentitySameSandbox(t *testing.T) {
	p := newTestProvider(t, 5*time.Second)

	a, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)
	again, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = p.Sandbox(context.Background(), "../x")
	assert.Error(t, err)
}

func TestProvider_CloseRemovesDirectories(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	root := t.TempDir()
	p, err := New(root, time.Second, logger)
	require.NoError(t, err)

	sb, err := p.Sandbox(context.Background(), "sbx-a")
	require.NoError(t, err)
	dir := sb.(*Sandbox).Dir()

	require.NoError(t, p.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
