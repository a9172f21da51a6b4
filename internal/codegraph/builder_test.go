package codegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

func fixtureRows() ([]model.FileIndex, []model.Symbol, []model.SymbolReference) {
	files := []model.FileIndex{
		{ID: 1, RepoID: 1, Path: "src/app.ts", Language: "typescript"},
		{ID: 2, RepoID: 1, Path: "src/util/format.ts", Language: "typescript"},
		{ID: 3, RepoID: 1, Path: "README.md", Language: "markdown"},
	}
	symbols := []model.Symbol{
		{ID: 10, RepoID: 1, FileID: 1, Name: "App", Kind: "class", StartLine: 3, EndLine: 40},
		{ID: 11, RepoID: 1, FileID: 1, Name: "render", Kind: "method", StartLine: 10, EndLine: 20},
		{ID: 12, RepoID: 1, FileID: 2, Name: "formatDate", Kind: "function", StartLine: 1, EndLine: 12},
	}
	refs := []model.SymbolReference{
		{RepoID: 1, FileID: 1, RefName: "./util/format", Line: 1, Kind: model.RefKindImport},
		{RepoID: 1, FileID: 1, RefName: "lodash", Line: 2, Kind: model.RefKindImport},
		{RepoID: 1, FileID: 1, RefName: "formatDate", Line: 15, Kind: model.RefKindCall},
		{RepoID: 1, FileID: 1, RefName: "formatDate", Line: 18, Kind: model.RefKindCall},
		{RepoID: 1, FileID: 2, RefName: "formatDate", Line: 12, Kind: model.RefKindExport},
	}
	return files, symbols, refs
}

func findEdges(g *Graph, typ string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestBuildGraphNodes(t *testing.T) {
	g := buildGraph(fixtureRows())

	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeFile, "src/app.ts"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeFile, "README.md"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeDirectory, "src"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeDirectory, "src/util"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeModule, "src"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeModule, RootModule), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeExternal, "lodash"), 0)
	assert.GreaterOrEqual(t, g.Lookup(model.NodeTypeSymbol, "src/app.ts#App:3"), 0)
}

func TestBuildGraphContainment(t *testing.T) {
	g := buildGraph(fixtureRows())

	dirFile := findEdges(g, EdgeDirContainsFile)
	assert.Len(t, dirFile, 2)

	dirDir := findEdges(g, EdgeDirContainsDir)
	require.Len(t, dirDir, 1)
	assert.Equal(t, "src", g.Nodes[dirDir[0].From].Key)
	assert.Equal(t, "src/util", g.Nodes[dirDir[0].To].Key)

	// render sits inside the App class.
	nested := findEdges(g, EdgeClassContainsSymbol)
	require.Len(t, nested, 1)
	assert.Equal(t, "src/app.ts#App:3", g.Nodes[nested[0].From].Key)
	assert.Equal(t, "src/app.ts#render:10", g.Nodes[nested[0].To].Key)
}

func TestBuildGraphImportEdges(t *testing.T) {
	g := buildGraph(fixtureRows())

	deps := findEdges(g, EdgeFileDep)
	appIdx := g.Lookup(model.NodeTypeFile, "src/app.ts")
	utilIdx := g.Lookup(model.NodeTypeFile, "src/util/format.ts")

	var explicit, promoted *Edge
	for i := range deps {
		e := &deps[i]
		if e.From == appIdx && e.To == utilIdx {
			if e.Source == SourceInferred {
				promoted = e
			} else {
				explicit = e
			}
		}
	}
	require.NotNil(t, explicit)
	assert.Equal(t, 1, explicit.Weight)
	assert.Equal(t, []string{"./util/format"}, []string(explicit.Examples))

	// Two formatDate calls aggregate into one inferred edge, weight 2,
	// which is promoted to a parallel file_dep.
	inferred := findEdges(g, EdgeFileDepInferred)
	require.Len(t, inferred, 1)
	assert.Equal(t, 2, inferred[0].Weight)
	assert.Equal(t, []string{"formatDate@L15", "formatDate@L18"}, []string(inferred[0].Examples))
	require.NotNil(t, promoted)
	assert.Equal(t, 2, promoted.Weight)

	ext := findEdges(g, EdgeExternalDep)
	require.Len(t, ext, 1)
	assert.Equal(t, "lodash", g.Nodes[ext[0].To].Key)
}

func TestBuildGraphSymbolEdges(t *testing.T) {
	g := buildGraph(fixtureRows())

	// The import at line 1 is outside any symbol; no symbol_imports_file.
	assert.Empty(t, findEdges(g, EdgeSymbolImportsFile))

	// Calls inside render reference formatDate across files.
	refEdges := findEdges(g, EdgeReferencesSymbol)
	require.Len(t, refEdges, 1)
	assert.Equal(t, "src/app.ts#render:10", g.Nodes[refEdges[0].From].Key)
	assert.Equal(t, "src/util/format.ts#formatDate:1", g.Nodes[refEdges[0].To].Key)
	assert.Equal(t, 2, refEdges[0].Weight)

	exports := findEdges(g, EdgeExportsSymbol)
	require.Len(t, exports, 1)
	assert.Equal(t, "src/util/format.ts", g.Nodes[exports[0].From].Key)
}

func TestTraversalPolicy(t *testing.T) {
	assert.True(t, CanTraverse(EdgeFileDep, false))
	assert.True(t, CanTraverse(EdgeFileDep, true))
	assert.True(t, CanTraverse(EdgeContainsSymbol, false))
	assert.False(t, CanTraverse(EdgeContainsSymbol, true))
	assert.False(t, CanTraverse(EdgeModuleContains, true))
	assert.False(t, CanTraverse(EdgeDirContainsDir, true))

	assert.Greater(t, Multiplier(EdgeFileDep, false), Multiplier(EdgeFileDep, true))
	assert.Greater(t, Multiplier(EdgeFileDep, false), Multiplier(EdgeFileDepInferred, false))
}

func TestWeightBoost(t *testing.T) {
	assert.Equal(t, 1.0, WeightBoost(1))
	assert.InDelta(t, 1.066, WeightBoost(2), 0.001)
	assert.Equal(t, 1.28, WeightBoost(1000000))
}

func TestRebuildAndLoadRoundTrip(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)

	files, symbols, refs := fixtureRows()
	for i := range files {
		files[i].ID = 0
		require.NoError(t, st.ReplaceFileArtifacts(&files[i], nil, nil, nil))
	}
	// Re-key symbol/ref file ids onto the inserted rows.
	byPath := map[string]uint{}
	stored, err := st.ListFiles(1)
	require.NoError(t, err)
	for _, f := range stored {
		byPath[f.Path] = f.ID
	}
	remap := map[uint]string{1: "src/app.ts", 2: "src/util/format.ts", 3: "README.md"}
	for i := range symbols {
		symbols[i].ID = 0
		symbols[i].FileID = byPath[remap[symbols[i].FileID]]
		require.NoError(t, st.DB().Create(&symbols[i]).Error)
	}
	for i := range refs {
		refs[i].FileID = byPath[remap[refs[i].FileID]]
		require.NoError(t, st.DB().Create(&refs[i]).Error)
	}

	b := NewBuilder(st)
	built, err := b.Rebuild(1)
	require.NoError(t, err)

	loaded, err := b.Load(1)
	require.NoError(t, err)
	assert.Equal(t, len(built.Nodes), len(loaded.Nodes))
	assert.Equal(t, len(built.Edges), len(loaded.Edges))
	assert.GreaterOrEqual(t, loaded.Lookup(model.NodeTypeFile, "src/app.ts"), 0)

	// Rebuilding replaces, never accumulates.
	again, err := b.Rebuild(1)
	require.NoError(t, err)
	assert.Equal(t, len(built.Edges), len(again.Edges))
}
