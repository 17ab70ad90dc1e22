package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_SupportedLanguages(t *testing.T) {
	tests := []struct {
		lang        string
		wantSource  string
		wantRun     string
		wantCompile string
	}{
		{lang: JavaScript, wantSource: "tmp.js", wantRun: "node tmp.js"},
		{lang: TypeScript, wantSource: "tmp.ts", wantRun: "tsx tmp.ts"},
		{lang: Python, wantSource: "tmp.py", wantRun: "python3 tmp.py"},
		{lang: Ruby, wantSource: "tmp.rb", wantRun: "ruby tmp.rb"},
		{lang: PHP, wantSource: "tmp.php", wantRun: "php tmp.php"},
		{lang: Go, wantSource: "tmp.go", wantRun: "go run tmp.go"},
		{lang: Bash, wantSource: "", wantRun: "bash"},
		{lang: Rust, wantSource: "tmp.rs", wantRun: "./tmp_rs", wantCompile: "rustc tmp.rs -o tmp_rs"},
		{lang: C, wantSource: "tmp.c", wantRun: "./tmp_c", wantCompile: "gcc tmp.c -o tmp_c"},
		{lang: CPP, wantSource: "tmp.cpp", wantRun: "./tmp_cpp", wantCompile: "g++ tmp.cpp -o tmp_cpp"},
		{lang: Java, wantSource: "Solution.java", wantRun: "java -cp . Solution", wantCompile: "javac Solution.java"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			p, ok := Lookup(tt.lang)
			require.True(t, ok)

			assert.Equal(t, tt.lang, p.Language)
			assert.Equal(t, tt.wantSource, p.SourceFile)
			assert.Equal(t, tt.wantRun, p.Run(p.SourceFile, p.Executable))

			// exactly one of {no compile step, compile step}
			assert.Equal(t, tt.wantCompile != "", p.Compiled())
			if p.Compiled() {
				assert.Equal(t, tt.wantCompile, p.Compile(p.SourceFile, p.Executable))
			}
		})
	}
}

func TestLookup_FrameworksAreAbsent(t *testing.T) {
	for _, fw := range Frameworks() {
		t.Run(fw, func(t *testing.T) {
			_, ok := Lookup(fw)
			assert.False(t, ok)
			assert.True(t, IsFramework(fw))
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, ok := Lookup("cobol")
	assert.False(t, ok)
	assert.False(t, IsFramework("cobol"))

	// identifiers are matched exactly
	_, ok = Lookup("Python")
	assert.False(t, ok)
}

func TestSupported(t *testing.T) {
	assert.Equal(t, []string{
		"bash", "c", "c++", "go", "java", "javascript",
		"php", "python", "ruby", "rust", "typescript",
	}, Supported())
}

func TestSupportedAndFrameworksAreDisjoint(t *testing.T) {
	for _, lang := range Supported() {
		assert.False(t, IsFramework(lang), lang)
	}
}
