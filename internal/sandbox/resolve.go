package sandbox

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// IDPrefix starts every sandbox identity. Backends use it to recognise
// containers and directories they own.
const IDPrefix = "sbx-"

// ResolveID maps an execution context (an interview room) to a stable sandbox
// identity.
//
// The mapping is a pure function of contextID, so every submission in a room
// lands in the same sandbox. The identity is a hash rather than the raw room
// id so it is always safe as a container name or a directory name.
//
// language is accepted but ignored: all languages used in one room share one
// sandbox, and therefore one working directory. Callers must not assume
// per-language isolation inside a room.
func ResolveID(contextID, language string) string {
	sum := blake2b.Sum256([]byte(contextID))
	return IDPrefix + hex.EncodeToString(sum[:16])
}
