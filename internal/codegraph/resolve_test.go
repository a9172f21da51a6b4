package codegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFileSet() *fileSet {
	return newFileSet([]string{
		"src/util/format.ts",
		"src/util/index.ts",
		"src/app.ts",
		"api/handler.py",
		"api/__init__.py",
		"api/models.py",
		"internal/auth/auth.go",
		"internal/auth/token.go",
		"src/parser/mod.rs",
		"src/lexer.rs",
	})
}

func TestResolveScriptRelative(t *testing.T) {
	fs := testFileSet()
	assert.Equal(t, "src/util/format.ts", resolveImport(fs, "src/app.ts", "./util/format"))
	assert.Equal(t, "src/util/index.ts", resolveImport(fs, "src/app.ts", "./util"))
	assert.Equal(t, "src/app.ts", resolveImport(fs, "src/util/format.ts", "../app"))
	assert.Equal(t, "", resolveImport(fs, "src/app.ts", "lodash"))
	assert.Equal(t, "", resolveImport(fs, "src/app.ts", "./missing"))
}

func TestResolvePython(t *testing.T) {
	fs := testFileSet()
	assert.Equal(t, "api/models.py", resolveImport(fs, "api/handler.py", "api.models"))
	assert.Equal(t, "api/__init__.py", resolveImport(fs, "main.py", "api"))
	assert.Equal(t, "api/models.py", resolveImport(fs, "api/handler.py", ".models"))
	assert.Equal(t, "", resolveImport(fs, "api/handler.py", "requests"))
}

func TestResolveGoSuffixMatch(t *testing.T) {
	fs := testFileSet()
	assert.Equal(t, "internal/auth/auth.go",
		resolveImport(fs, "cmd/main.go", "github.com/acme/svc/internal/auth"))
	assert.Equal(t, "", resolveImport(fs, "cmd/main.go", "github.com/google/uuid"))
}

func TestResolveRust(t *testing.T) {
	fs := testFileSet()
	assert.Equal(t, "src/lexer.rs", resolveImport(fs, "src/main.rs", "crate::lexer"))
	assert.Equal(t, "src/parser/mod.rs", resolveImport(fs, "src/main.rs", "crate::parser"))
	assert.Equal(t, "src/parser/mod.rs", resolveImport(fs, "src/main.rs", "crate::parser::parse"))
	assert.Equal(t, "", resolveImport(fs, "src/main.rs", "serde::Deserialize"))
}

func TestPackageRoot(t *testing.T) {
	assert.Equal(t, "lodash", packageRoot("src/app.ts", "lodash/merge"))
	assert.Equal(t, "@scope/pkg", packageRoot("src/app.ts", "@scope/pkg/sub"))
	assert.Equal(t, "requests", packageRoot("api/handler.py", "requests.sessions"))
	assert.Equal(t, "serde", packageRoot("src/main.rs", "serde::Deserialize"))
	assert.Equal(t, "github.com/google/uuid", packageRoot("cmd/main.go", "github.com/google/uuid/sub"))
}
