package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func TestWalkCheckoutSkipsDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", []byte("package main\n"))
	writeFile(t, root, "src/app.ts", []byte("export const x = 1\n"))
	writeFile(t, root, "node_modules/pkg/index.js", []byte("module.exports = {}\n"))
	writeFile(t, root, ".git/config", []byte("[core]\n"))
	writeFile(t, root, "vendor/lib/lib.go", []byte("package lib\n"))

	files, err := walkCheckout(root)
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"main.go", "src/app.ts"}, paths)
}

func TestWalkCheckoutSizeLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", []byte("hello\n"))
	big := make([]byte, MaxFileBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	writeFile(t, root, "big.txt", big)

	files, err := walkCheckout(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "small.txt", files[0].Path)
}

func TestClassifyLanguageDetection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handler.go", []byte("package api\n\nfunc Handle() {}\n"))

	files, err := walkCheckout(root)
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, language, ok := classify(files[0])
	require.True(t, ok)
	assert.Equal(t, "Go", language)
	assert.Contains(t, string(content), "func Handle")
}

func TestClassifyRejectsBinary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "blob.bin", []byte{0x7f, 'E', 'L', 'F', 0x00, 0x01, 0x02})

	files, err := walkCheckout(root)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, _, ok := classify(files[0])
	assert.False(t, ok)
}

func TestClassifyRejectsEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "empty.txt", nil)

	files, err := walkCheckout(root)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, _, ok := classify(files[0])
	assert.False(t, ok)
}

func TestClassifyPlainTextWithoutLanguage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "NOTES", []byte("deployment notes\n- rotate the token monthly\n"))

	files, err := walkCheckout(root)
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, _, ok := classify(files[0])
	assert.True(t, ok)
}
