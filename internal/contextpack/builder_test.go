package contextpack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/codegraph"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

const appPatch = `diff --git a/src/app.ts b/src/app.ts
--- a/src/app.ts
+++ b/src/app.ts
@@ -5,5 +5,6 @@
 function main() {
   const when = new Date()
+  render(formatDate(when))
   start()
 }
`

// seedRepo indexes three files with symbols, references, and embeddings,
// then materializes the code graph.
func seedRepo(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)

	embedder := embedding.NewStatic(16)
	type fileSpec struct {
		path    string
		content string
	}
	specs := []fileSpec{
		{"src/app.ts", "import { formatDate } from './util/format'\nfunction main() { render(formatDate(new Date())) }\n"},
		{"src/util/format.ts", "export function formatDate(d: Date): string { return d.toISOString() }\n"},
		{"docs/notes.md", "release checklist and deployment notes\n"},
	}
	fileIDs := make(map[string]uint)
	for _, spec := range specs {
		vecs, err := embedder.EmbedBatch(context.Background(), []string{spec.path + "\n" + spec.content})
		require.NoError(t, err)
		file := &model.FileIndex{RepoID: 1, Path: spec.path, ContentHash: "h-" + spec.path, Size: int64(len(spec.content))}
		embeds := []model.Embedding{{RepoID: 1, Kind: model.EmbeddingKindFile, Vector: vecs[0], Text: spec.path + "\n" + spec.content}}
		require.NoError(t, st.ReplaceFileArtifacts(file, nil, nil, embeds))
		fileIDs[spec.path] = file.ID
	}

	symbols := []model.Symbol{
		{RepoID: 1, FileID: fileIDs["src/app.ts"], Name: "main", Kind: "function", StartLine: 2, EndLine: 9},
		{RepoID: 1, FileID: fileIDs["src/util/format.ts"], Name: "formatDate", Kind: "function", StartLine: 1, EndLine: 1},
	}
	for i := range symbols {
		require.NoError(t, st.DB().Create(&symbols[i]).Error)
	}
	refs := []model.SymbolReference{
		{RepoID: 1, FileID: fileIDs["src/app.ts"], RefName: "./util/format", Line: 1, Kind: model.RefKindImport},
		{RepoID: 1, FileID: fileIDs["src/app.ts"], RefName: "formatDate", Line: 7, Kind: model.RefKindCall},
	}
	for i := range refs {
		require.NoError(t, st.DB().Create(&refs[i]).Error)
	}

	_, err = codegraph.NewBuilder(st).Rebuild(1)
	require.NoError(t, err)
	return st
}

func TestBuildContextPack(t *testing.T) {
	st := seedRepo(t)
	b := NewBuilder(st, embedding.NewStatic(16))

	pack, err := b.Build(context.Background(), Input{
		RepoID: 1,
		Title:  "Render formatted dates",
		Body:   "Uses formatDate for the header",
		Diff:   diffindex.Parse(appPatch),
		Cfg:    config.Default(),
	})
	require.NoError(t, err)

	assert.Contains(t, pack.Query, "Render formatted dates")
	assert.NotEmpty(t, pack.Retrieved)

	// The imported file is reachable through the graph.
	var related []string
	for _, rf := range pack.RelatedFiles {
		related = append(related, rf.Path)
		assert.NotEqual(t, "src/app.ts", rf.Path, "changed files never appear as related")
	}
	assert.Contains(t, related, "src/util/format.ts")

	require.NotEmpty(t, pack.GraphLinks)
	assert.Equal(t, "src/app.ts", pack.GraphLinks[0].From)
	assert.Equal(t, "src/util/format.ts", pack.GraphLinks[0].To)

	assert.Greater(t, pack.GraphDebug.SeededNodes, 0)
	assert.Greater(t, pack.GraphDebug.VisitedNodes, 0)

	require.Len(t, pack.ChangedFileStats, 1)
	assert.Equal(t, "src/app.ts", pack.ChangedFileStats[0].Path)
}

func TestBuildRespectsBudgets(t *testing.T) {
	st := seedRepo(t)
	b := NewBuilder(st, embedding.NewStatic(16))

	cfg := config.Default()
	cfg.Retrieval.TopK = 2
	cfg.Graph.Traversal.MaxNodesVisited = 1
	cfg.Graph.Traversal.MaxGraphLinks = 1

	pack, err := b.Build(context.Background(), Input{
		RepoID: 1,
		Title:  "tiny budget",
		Diff:   diffindex.Parse(appPatch),
		Cfg:    cfg,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, len(pack.Retrieved), 2)
	assert.LessOrEqual(t, pack.GraphDebug.VisitedNodes, 1)
	assert.LessOrEqual(t, len(pack.GraphLinks), 1)
}

func TestBuildExcludedSeedDirs(t *testing.T) {
	st := seedRepo(t)
	b := NewBuilder(st, embedding.NewStatic(16))

	cfg := config.Default()
	cfg.Graph.ExcludeDirs = []string{"src"}

	pack, err := b.Build(context.Background(), Input{
		RepoID: 1,
		Title:  "excluded",
		Diff:   diffindex.Parse(appPatch),
		Cfg:    cfg,
	})
	require.NoError(t, err)
	assert.Zero(t, pack.GraphDebug.SeededNodes)
	assert.Empty(t, pack.GraphPaths)
}

func TestRetrievalJoinsSymbolNames(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)
	embedder := embedding.NewStatic(16)

	content := "export function formatDate(d: Date): string { return d.toISOString() }\n"
	texts := []string{
		"src/util/format.ts\n" + content,
		"formatDate function formatDate(d: Date): string",
	}
	vecs, err := embedder.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	file := &model.FileIndex{RepoID: 1, Path: "src/util/format.ts", ContentHash: "h", Size: int64(len(content))}
	symbols := []model.Symbol{
		{RepoID: 1, Name: "formatDate", Kind: "function", StartLine: 1, EndLine: 1, Signature: "function formatDate(d: Date): string"},
	}
	// Symbol embeddings arrive without ids, the way the indexer produces them.
	embeds := []model.Embedding{
		{RepoID: 1, Kind: model.EmbeddingKindFile, Vector: vecs[0], Text: texts[0]},
		{RepoID: 1, Kind: model.EmbeddingKindSymbol, Vector: vecs[1], Text: texts[1]},
	}
	require.NoError(t, st.ReplaceFileArtifacts(file, symbols, nil, embeds))

	items, err := retrieve(context.Background(), st, embedder, 1, "formatDate helper", nil, config.Default().Retrieval)
	require.NoError(t, err)

	var names []string
	for _, it := range items {
		if it.Symbol != "" {
			names = append(names, it.Symbol)
		}
	}
	assert.Contains(t, names, "formatDate")
}

func TestSnapshotEmbeddingsClampsLimit(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)

	for i := 0; i < 5; i++ {
		emb := model.Embedding{RepoID: 1, Kind: model.EmbeddingKindChunk, Vector: model.Vector{0.1}, Text: "x"}
		require.NoError(t, st.DB().Create(&emb).Error)
	}

	candidates, _, _, err := snapshotEmbeddings(st, 1, 3)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestSelectCandidatesPerPathCap(t *testing.T) {
	mk := func(path string, score float64) candidate {
		return candidate{path: path, score: score, emb: model.Embedding{Kind: model.EmbeddingKindChunk}}
	}
	sorted := []candidate{
		mk("a.go", 0.9), mk("a.go", 0.8), mk("a.go", 0.7), mk("a.go", 0.6),
		mk("b.go", 0.5), mk("c.go", 0.4),
	}
	cfg := config.Default().Retrieval
	cfg.TopK = 5
	cfg.MaxPerPath = 2

	items := selectCandidates(sorted, map[string]bool{"b.go": true}, cfg)
	require.Len(t, items, 5)
	// Anchor: best item of the changed path comes first.
	assert.Equal(t, "b.go", items[0].Path)
	perPath := map[string]int{}
	for _, it := range items[:4] {
		perPath[it.Path]++
	}
	assert.LessOrEqual(t, perPath["a.go"], 2)
}

func TestSelectCandidatesOverflowRelaxesCap(t *testing.T) {
	mk := func(path string, score float64) candidate {
		return candidate{path: path, score: score, emb: model.Embedding{Kind: model.EmbeddingKindChunk}}
	}
	sorted := []candidate{mk("a.go", 0.9), mk("a.go", 0.8), mk("a.go", 0.7)}
	cfg := config.Default().Retrieval
	cfg.TopK = 3
	cfg.MaxPerPath = 1

	items := selectCandidates(sorted, nil, cfg)
	assert.Len(t, items, 3)
}
