// Package language holds the static execution profile of every language the
// runner can execute from a single source file.
//
// The registry is pure data. It answers "how do I name the source file, and
// which shell command compiles or runs it?" and nothing else. Behaviour lives
// in the executor package, which picks a code runner per language.
package language

import (
	"fmt"
	"sort"
)

// Language identifiers. The set is closed and must match what the editor sends.
const (
	JavaScript = "javascript"
	TypeScript = "typescript"
	Python     = "python"
	Bash       = "bash"
	Go         = "go"
	Rust       = "rust"
	C          = "c"
	CPP        = "c++"
	Java       = "java"
	PHP        = "php"
	Ruby       = "ruby"
)

// Profile is the execution profile of one language.
//
// Run receives the source file and, for compiled languages, the executable
// produced by Compile. Compile is nil for interpreted languages.
type Profile struct {
	Language   string
	Extension  string
	SourceFile string
	Executable string
	Run        func(file, executable string) string
	Compile    func(source, output string) string
}

// Compiled reports whether the profile has a compile step.
func (p Profile) Compiled() bool {
	return p.Compile != nil
}

func interpreted(lang, ext, interpreter string) Profile {
	return Profile{
		Language:   lang,
		Extension:  ext,
		SourceFile: "tmp." + ext,
		Run: func(file, _ string) string {
			return fmt.Sprintf("%s %s", interpreter, file)
		},
	}
}

func native(lang, ext, compiler string) Profile {
	return Profile{
		Language:   lang,
		Extension:  ext,
		SourceFile: "tmp." + ext,
		Executable: "tmp_" + ext,
		Run: func(_, executable string) string {
			return "./" + executable
		},
		Compile: func(source, output string) string {
			return fmt.Sprintf("%s %s -o %s", compiler, source, output)
		},
	}
}

var profiles = map[string]Profile{
	JavaScript: interpreted(JavaScript, "js", "node"),
	TypeScript: interpreted(TypeScript, "ts", "tsx"),
	Python:     interpreted(Python, "py", "python3"),
	Ruby:       interpreted(Ruby, "rb", "ruby"),
	PHP:        interpreted(PHP, "php", "php"),
	Go:         interpreted(Go, "go", "go run"),
	Bash: {
		Language:  Bash,
		Extension: "sh",
		// bash never touches the filesystem: the source is passed inline.
		Run: func(string, string) string { return "bash" },
	},
	Rust: native(Rust, "rs", "rustc"),
	C:    native(C, "c", "gcc"),
	CPP:  native(CPP, "cpp", "g++"),
	Java: {
		Language:   Java,
		Extension:  "java",
		SourceFile: "Solution.java",
		Executable: "Solution.class",
		Run: func(_, _ string) string {
			return "java -cp . Solution"
		},
		Compile: func(source, _ string) string {
			return "javac " + source
		},
	},
}

// frameworks are editor languages rendered in a browser preview. They have no
// execution profile on purpose.
var frameworks = map[string]bool{
	"react":   true,
	"vue":     true,
	"svelte":  true,
	"angular": true,
	"solid":   true,
	"preact":  true,
	"nextjs":  true,
	"html":    true,
}

// Lookup returns the profile for lang. The boolean is false for frameworks and
// unknown identifiers alike; use IsFramework to tell them apart.
func Lookup(lang string) (Profile, bool) {
	p, ok := profiles[lang]
	return p, ok
}

// IsFramework reports whether lang is a framework identifier.
func IsFramework(lang string) bool {
	return frameworks[lang]
}

// Supported lists every language with a profile, sorted.
func Supported() []string {
	return sortedKeys(profiles)
}

// Frameworks lists the framework identifiers, sorted.
func Frameworks() []string {
	return sortedKeys(frameworks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
