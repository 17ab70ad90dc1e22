package sandbox_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coderscreen/coderunner/internal/sandbox"
)

func TestResolveID_Deterministic(t *testing.T) {
	a := sandbox.ResolveID("room-42", "python")
	b := sandbox.ResolveID("room-42", "python")

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, sandbox.IDPrefix))
	assert.Len(t, a, len(sandbox.IDPrefix)+32)
}

func TestResolveID_IgnoresLanguage(t *testing.T) {
	// Two languages in one room share a sandbox.
	assert.Equal(t,
		sandbox.ResolveID("room-42", "python"),
		sandbox.ResolveID("room-42", "rust"),
	)
	assert.Equal(t,
		sandbox.ResolveID("room-42", ""),
		sandbox.ResolveID("room-42", "java"),
	)
}

func TestResolveID_DistinctRooms(t *testing.T) {
	seen := make(map[string]string)
	for i := 0; i < 1000; i++ {
		room := fmt.Sprintf("room-%d", i)
		id := sandbox.ResolveID(room, "")
		if other, dup := seen[id]; dup {
			t.Fatalf("ResolveID(%q) collides with ResolveID(%q): %s", room, other, id)
		}
		seen[id] = room
	}
}

func TestResolveID_SafeAsContainerName(t *testing.T) {
	id := sandbox.ResolveID("../../etc/passwd; rm -rf /", "")
	for _, r := range strings.TrimPrefix(id, sandbox.IDPrefix) {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q", r)
	}
}
