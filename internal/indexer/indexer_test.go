package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

const goSample = `package service

import "fmt"

// Greet formats a greeting.
func Greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}
`

func newTestIndexer(t *testing.T) (*Indexer, *store.Store) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)
	ix := New(st, embedding.NewStatic(32))
	t.Cleanup(ix.Close)
	return ix, st
}

func TestIndexRepoFirstPass(t *testing.T) {
	ix, st := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, root, "service/greet.go", []byte(goSample))
	writeFile(t, root, "README.md", []byte("# demo\n\nA sample service.\n"))

	stats, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Indexed)
	assert.Equal(t, 0, stats.Unchanged)

	files, err := st.ListFiles(1)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "README.md", files[0].Path)
	assert.Equal(t, "service/greet.go", files[1].Path)
	assert.Equal(t, "go", files[1].Language)
	assert.Len(t, files[1].ContentHash, 32)

	symbols, err := st.ListSymbols(1)
	require.NoError(t, err)
	var names []string
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "Greet")

	embeds, err := st.PageEmbeddings(1, 0, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, embeds)
	kinds := map[string]int{}
	for _, e := range embeds {
		kinds[e.Kind]++
		assert.Len(t, []float32(e.Vector), 32)
	}
	assert.Equal(t, 2, kinds[model.EmbeddingKindFile])
	assert.GreaterOrEqual(t, kinds[model.EmbeddingKindChunk], 2)

	// Symbol embeddings are joined to their symbol rows on insert.
	symbolNames := map[uint]string{}
	for _, s := range symbols {
		symbolNames[s.ID] = s.Name
	}
	var joined []string
	for _, e := range embeds {
		if e.Kind == model.EmbeddingKindSymbol {
			require.NotNil(t, e.SymbolID)
			joined = append(joined, symbolNames[*e.SymbolID])
		}
	}
	assert.Contains(t, joined, "Greet")
}

func TestIndexRepoSkipsUnchanged(t *testing.T) {
	ix, _ := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte(goSample))

	_, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)

	stats, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Indexed)
	assert.Equal(t, 1, stats.Unchanged)

	stats, err = ix.IndexRepo(context.Background(), 1, root, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
}

func TestIndexRepoReindexesChangedFile(t *testing.T) {
	ix, st := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, root, "a.go", []byte(goSample))

	_, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)
	before, err := st.GetFileByPath(1, "a.go", false)
	require.NoError(t, err)
	require.NotNil(t, before)

	writeFile(t, root, "a.go", []byte(goSample+"\n// trailing\n"))
	stats, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)

	after, err := st.GetFileByPath(1, "a.go", false)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.NotEqual(t, before.ContentHash, after.ContentHash)
}

func TestIndexRepoRemovesDeletedFiles(t *testing.T) {
	ix, st := newTestIndexer(t)
	root := t.TempDir()
	writeFile(t, root, "keep.go", []byte(goSample))
	writeFile(t, root, "gone.go", []byte(goSample))

	_, err := ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	_, err = ix.IndexRepo(context.Background(), 1, root, Options{})
	require.NoError(t, err)

	files, err := st.ListFiles(1)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.go", files[0].Path)

	gone, err := st.GetFileByPath(1, "gone.go", false)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestEmbedInputsShape(t *testing.T) {
	texts, kinds := embedInputs("pkg/x.go", goSample, []model.Symbol{
		{Name: "Greet", Signature: "func Greet(name string) string"},
	})
	require.Equal(t, len(texts), len(kinds))
	assert.Equal(t, model.EmbeddingKindFile, kinds[0])
	assert.Contains(t, texts[0], "pkg/x.go")
	assert.Equal(t, model.EmbeddingKindSymbol, kinds[1])
	assert.Equal(t, "Greet func Greet(name string) string", texts[1])
}
