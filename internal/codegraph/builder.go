package codegraph

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
)

// RootModule is the module key for files without a directory.
const RootModule = "(root)"

// maxCallCandidates bounds call-name resolution; ambiguous names are skipped.
const maxCallCandidates = 3

// Builder derives and persists the code graph of a repo.
type Builder struct {
	store *store.Store
}

// NewBuilder creates a Builder over the given store.
func NewBuilder(st *store.Store) *Builder {
	return &Builder{store: st}
}

// Rebuild drops the prior graph of the repo and materializes a fresh one
// from the current index rows.
func (b *Builder) Rebuild(repoID uint) (*Graph, error) {
	files, err := b.store.ListFiles(repoID)
	if err != nil {
		return nil, err
	}
	symbols, err := b.store.ListSymbols(repoID)
	if err != nil {
		return nil, err
	}
	refs, err := b.store.ListReferences(repoID)
	if err != nil {
		return nil, err
	}

	g := buildGraph(files, symbols, refs)

	nodes := make([]model.GraphNode, len(g.Nodes))
	for i, n := range g.Nodes {
		row := model.GraphNode{Type: n.Type, Key: n.Key}
		if n.FileID != 0 {
			id := n.FileID
			row.FileID = &id
		}
		if n.SymbolID != 0 {
			id := n.SymbolID
			row.SymbolID = &id
		}
		nodes[i] = row
	}
	edges := make([]model.GraphEdge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = model.GraphEdge{
			FromNodeID: uint(e.From),
			ToNodeID:   uint(e.To),
			Type:       e.Type,
			Weight:     e.Weight,
			Examples:   e.Examples,
			Source:     e.Source,
		}
	}
	if err := b.store.ReplaceGraph(repoID, nodes, edges); err != nil {
		return nil, err
	}

	logger.Info("Code graph rebuilt",
		zap.Uint("repo_id", repoID),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
	)
	return g, nil
}

// Load reconstructs the arena graph from the persisted rows.
func (b *Builder) Load(repoID uint) (*Graph, error) {
	nodes, edges, err := b.store.LoadGraph(repoID)
	if err != nil {
		return nil, err
	}
	g := newGraph()
	byDBID := make(map[uint]int, len(nodes))
	for _, row := range nodes {
		n := Node{Type: row.Type, Key: row.Key}
		if row.FileID != nil {
			n.FileID = *row.FileID
		}
		if row.SymbolID != nil {
			n.SymbolID = *row.SymbolID
		}
		byDBID[row.ID] = g.ensureNode(n)
	}
	for _, row := range edges {
		from, okF := byDBID[row.FromNodeID]
		to, okT := byDBID[row.ToNodeID]
		if !okF || !okT {
			continue
		}
		g.addEdge(Edge{
			From:     from,
			To:       to,
			Type:     row.Type,
			Weight:   row.Weight,
			Examples: row.Examples,
			Source:   row.Source,
		})
	}
	return g, nil
}

// edgeAgg collapses duplicate (from, to, type) edges.
type edgeAgg struct {
	order map[aggKey]int
	list  []aggEntry
}

type aggKey struct {
	from, to int
	typ      string
}

type aggEntry struct {
	key      aggKey
	weight   int
	examples []string
}

func newEdgeAgg() *edgeAgg {
	return &edgeAgg{order: make(map[aggKey]int)}
}

func (a *edgeAgg) add(from, to int, typ, example string) {
	k := aggKey{from: from, to: to, typ: typ}
	idx, ok := a.order[k]
	if !ok {
		idx = len(a.list)
		a.list = append(a.list, aggEntry{key: k})
		a.order[k] = idx
	}
	e := &a.list[idx]
	e.weight++
	if example != "" && len(e.examples) < maxEdgeExamples {
		e.examples = append(e.examples, example)
	}
}

// buildGraph materializes the arena from index rows. Pure; persistence is
// the Builder's concern.
func buildGraph(files []model.FileIndex, symbols []model.Symbol, refs []model.SymbolReference) *Graph {
	g := newGraph()
	agg := newEdgeAgg()

	paths := make([]string, 0, len(files))
	fileNodeByID := make(map[uint]int, len(files))
	filePathByID := make(map[uint]string, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
		filePathByID[f.ID] = f.Path
	}
	fs := newFileSet(paths)

	// Files, directory chains, modules.
	for _, f := range files {
		fileIdx := g.ensureNode(Node{Type: model.NodeTypeFile, Key: f.Path, FileID: f.ID})
		fileNodeByID[f.ID] = fileIdx

		segs := strings.Split(f.Path, "/")
		parent := -1
		for i := 0; i < len(segs)-1; i++ {
			dir := strings.Join(segs[:i+1], "/")
			dirIdx := g.ensureNode(Node{Type: model.NodeTypeDirectory, Key: dir})
			if parent >= 0 {
				agg.add(parent, dirIdx, EdgeDirContainsDir, "")
			}
			parent = dirIdx
		}
		if parent >= 0 {
			agg.add(parent, fileIdx, EdgeDirContainsFile, "")
		}

		moduleIdx := g.ensureNode(Node{Type: model.NodeTypeModule, Key: moduleOf(f.Path)})
		agg.add(moduleIdx, fileIdx, EdgeModuleContains, "")
	}

	// Symbols and symbol nesting.
	symbolsByFile := make(map[uint][]model.Symbol)
	for _, s := range symbols {
		symbolsByFile[s.FileID] = append(symbolsByFile[s.FileID], s)
	}
	symbolNodeByID := make(map[uint]int, len(symbols))
	symbolsByName := make(map[string][]model.Symbol)
	for fileID, fileSymbols := range symbolsByFile {
		fileIdx, ok := fileNodeByID[fileID]
		if !ok {
			continue
		}
		filePath := filePathByID[fileID]
		for _, s := range fileSymbols {
			key := fmt.Sprintf("%s#%s:%d", filePath, s.Name, s.StartLine)
			symIdx := g.ensureNode(Node{Type: model.NodeTypeSymbol, Key: key, FileID: fileID, SymbolID: s.ID})
			symbolNodeByID[s.ID] = symIdx
			agg.add(fileIdx, symIdx, EdgeContainsSymbol, "")
			symbolsByName[normalizeName(s.Name)] = append(symbolsByName[normalizeName(s.Name)], s)
		}
		for _, s := range fileSymbols {
			parent := smallestEnclosing(fileSymbols, s)
			if parent == nil {
				continue
			}
			edgeType := EdgeSymbolContainsSymbol
			if classLike(parent.Kind) {
				edgeType = EdgeClassContainsSymbol
			}
			agg.add(symbolNodeByID[parent.ID], symbolNodeByID[s.ID], edgeType, "")
		}
	}

	// References: imports, exports, calls.
	for _, ref := range refs {
		fileIdx, ok := fileNodeByID[ref.FileID]
		if !ok {
			continue
		}
		importerPath := filePathByID[ref.FileID]

		switch ref.Kind {
		case model.RefKindImport:
			target := resolveImport(fs, importerPath, ref.RefName)
			if target == "" {
				root := packageRoot(importerPath, ref.RefName)
				if root == "" {
					continue
				}
				extIdx := g.ensureNode(Node{Type: model.NodeTypeExternal, Key: root})
				agg.add(fileIdx, extIdx, EdgeExternalDep, ref.RefName)
				continue
			}
			targetIdx := g.Lookup(model.NodeTypeFile, target)
			if targetIdx < 0 || targetIdx == fileIdx {
				continue
			}
			agg.add(fileIdx, targetIdx, EdgeFileDep, ref.RefName)
			if enclosing := enclosingSymbol(symbolsByFile[ref.FileID], ref.Line); enclosing != nil {
				agg.add(symbolNodeByID[enclosing.ID], targetIdx, EdgeSymbolImportsFile, ref.RefName)
			}
			fromModule, toModule := moduleOf(importerPath), moduleOf(target)
			if fromModule != toModule {
				agg.add(
					g.ensureNode(Node{Type: model.NodeTypeModule, Key: fromModule}),
					g.ensureNode(Node{Type: model.NodeTypeModule, Key: toModule}),
					EdgeModuleDep, "")
			}

		case model.RefKindExport:
			matched := 0
			for _, s := range symbolsByFile[ref.FileID] {
				if normalizeName(s.Name) != normalizeName(ref.RefName) {
					continue
				}
				agg.add(fileIdx, symbolNodeByID[s.ID], EdgeExportsSymbol, "")
				matched++
				if matched == 5 {
					break
				}
			}

		default:
			candidates := symbolsByName[normalizeName(ref.RefName)]
			if len(candidates) == 0 || len(candidates) > maxCallCandidates {
				continue
			}
			crossFile := false
			for _, c := range candidates {
				if c.FileID != ref.FileID {
					crossFile = true
					break
				}
			}
			if !crossFile {
				continue
			}
			example := fmt.Sprintf("%s@L%d", ref.RefName, ref.Line)
			enclosing := enclosingSymbol(symbolsByFile[ref.FileID], ref.Line)
			for _, c := range candidates {
				if c.FileID == ref.FileID {
					continue
				}
				if enclosing != nil {
					agg.add(symbolNodeByID[enclosing.ID], symbolNodeByID[c.ID], EdgeReferencesSymbol, example)
				}
				if targetFileIdx, ok := fileNodeByID[c.FileID]; ok && targetFileIdx != fileIdx {
					agg.add(fileIdx, targetFileIdx, EdgeFileDepInferred, example)
				}
			}
		}
	}

	// Materialize aggregated edges, promoting repeated inferred deps.
	for _, e := range agg.list {
		g.addEdge(Edge{
			From:     e.key.from,
			To:       e.key.to,
			Type:     e.key.typ,
			Weight:   e.weight,
			Examples: e.examples,
		})
		if e.key.typ == EdgeFileDepInferred && e.weight >= 2 {
			g.addEdge(Edge{
				From:     e.key.from,
				To:       e.key.to,
				Type:     EdgeFileDep,
				Weight:   e.weight,
				Examples: e.examples,
				Source:   SourceInferred,
			})
		}
	}

	return g
}

// moduleOf is the first path segment, or RootModule for top-level files.
func moduleOf(p string) string {
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return RootModule
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// classLike reports whether a symbol kind can own members.
func classLike(kind string) bool {
	switch kind {
	case "class", "struct", "interface", "trait", "enum":
		return true
	}
	return false
}

// smallestEnclosing finds the tightest symbol strictly containing s, or nil.
func smallestEnclosing(fileSymbols []model.Symbol, s model.Symbol) *model.Symbol {
	var best *model.Symbol
	bestSpan := -1
	for i := range fileSymbols {
		t := &fileSymbols[i]
		if t.ID == s.ID {
			continue
		}
		if t.StartLine > s.StartLine || t.EndLine < s.EndLine {
			continue
		}
		span := t.EndLine - t.StartLine
		if span <= s.EndLine-s.StartLine {
			continue
		}
		if best == nil || span < bestSpan {
			best = t
			bestSpan = span
		}
	}
	return best
}

// enclosingSymbol finds the tightest symbol whose range covers the line.
func enclosingSymbol(fileSymbols []model.Symbol, line int) *model.Symbol {
	var best *model.Symbol
	bestSpan := -1
	for i := range fileSymbols {
		s := &fileSymbols[i]
		if line < s.StartLine || line > s.EndLine {
			continue
		}
		span := s.EndLine - s.StartLine
		if best == nil || span < bestSpan {
			best = s
			bestSpan = span
		}
	}
	return best
}

// SortedFileNodes returns the file-node positions ordered by path; useful for
// deterministic iteration in callers and tests.
func (g *Graph) SortedFileNodes() []int {
	var out []int
	for i, n := range g.Nodes {
		if n.Type == model.NodeTypeFile {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return g.Nodes[out[a]].Key < g.Nodes[out[b]].Key })
	return out
}
