// Package codegraph materializes a typed multigraph over indexed files,
// symbols, and references. The graph is derived state: it is rebuilt from the
// index tables and may be recomputed at any time.
package codegraph

import "math"

// Edge types.
const (
	EdgeDirContainsDir       = "dir_contains_dir"
	EdgeDirContainsFile      = "dir_contains_file"
	EdgeModuleContains       = "module_contains"
	EdgeContainsSymbol       = "contains_symbol"
	EdgeSymbolContainsSymbol = "symbol_contains_symbol"
	EdgeClassContainsSymbol  = "class_contains_symbol"
	EdgeFileDep              = "file_dep"
	EdgeFileDepInferred      = "file_dep_inferred"
	EdgeSymbolImportsFile    = "symbol_imports_file"
	EdgeModuleDep            = "module_dep"
	EdgeExternalDep          = "external_dep"
	EdgeExportsSymbol        = "exports_symbol"
	EdgeReferencesSymbol     = "references_symbol"
)

// SourceInferred marks edges promoted from call-inference rather than
// explicit imports.
const SourceInferred = "inferred"

// maxEdgeExamples caps the examples carried on an aggregated edge.
const maxEdgeExamples = 5

// Node is one arena node. Nodes are identified by slice position within a
// Graph; FileID and SymbolID are database ids (0 when absent).
type Node struct {
	Type     string
	Key      string
	FileID   uint
	SymbolID uint
}

// Edge is one aggregated typed edge between arena positions.
type Edge struct {
	From     int
	To       int
	Type     string
	Weight   int
	Examples []string
	Source   string
}

// Graph is an arena-owned cyclic multigraph: nodes and edges are identified
// by integer positions, with adjacency lists kept per node.
type Graph struct {
	Nodes []Node
	Edges []Edge

	out   [][]int // edge indices by from-node
	in    [][]int // edge indices by to-node
	byKey map[string]int
}

func newGraph() *Graph {
	return &Graph{byKey: make(map[string]int)}
}

func nodeKey(typ, key string) string { return typ + "\x00" + key }

// ensureNode returns the position of the (type, key) node, creating it on
// first sight.
func (g *Graph) ensureNode(n Node) int {
	k := nodeKey(n.Type, n.Key)
	if idx, ok := g.byKey[k]; ok {
		return idx
	}
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	g.byKey[k] = idx
	return idx
}

// Lookup returns the position of the (type, key) node, or -1.
func (g *Graph) Lookup(typ, key string) int {
	if idx, ok := g.byKey[nodeKey(typ, key)]; ok {
		return idx
	}
	return -1
}

// Out returns the indices of edges leaving node idx.
func (g *Graph) Out(idx int) []int { return g.out[idx] }

// In returns the indices of edges arriving at node idx.
func (g *Graph) In(idx int) []int { return g.in[idx] }

func (g *Graph) addEdge(e Edge) {
	idx := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.out[e.From] = append(g.out[e.From], idx)
	g.in[e.To] = append(g.in[e.To], idx)
}

// CanTraverse reports whether an edge of the given type may be walked in the
// given direction. Containment edges are outgoing-only; dependency and
// reference edges are traversable both ways.
func CanTraverse(edgeType string, incoming bool) bool {
	if !incoming {
		return true
	}
	switch edgeType {
	case EdgeDirContainsDir, EdgeDirContainsFile, EdgeModuleContains,
		EdgeContainsSymbol, EdgeSymbolContainsSymbol, EdgeClassContainsSymbol:
		return false
	}
	return true
}

// Multiplier is the per-hop score decay for an edge type and direction.
func Multiplier(edgeType string, incoming bool) float64 {
	var out, in float64
	switch edgeType {
	case EdgeFileDep:
		out, in = 0.86, 0.78
	case EdgeFileDepInferred:
		out, in = 0.72, 0.64
	case EdgeSymbolImportsFile:
		out, in = 0.80, 0.70
	case EdgeModuleDep:
		out, in = 0.55, 0.50
	case EdgeExternalDep:
		out, in = 0.35, 0.30
	case EdgeExportsSymbol:
		out, in = 0.75, 0.70
	case EdgeReferencesSymbol:
		out, in = 0.70, 0.66
	case EdgeContainsSymbol:
		out, in = 0.90, 0
	case EdgeSymbolContainsSymbol, EdgeClassContainsSymbol:
		out, in = 0.88, 0
	case EdgeDirContainsFile:
		out, in = 0.68, 0
	case EdgeDirContainsDir:
		out, in = 0.55, 0
	case EdgeModuleContains:
		out, in = 0.50, 0
	default:
		out, in = 0.50, 0.45
	}
	if incoming {
		return in
	}
	return out
}

// WeightBoost scales a hop by edge weight, capped at 1.28.
func WeightBoost(weight int) float64 {
	if weight <= 1 {
		return 1
	}
	return math.Min(1.28, 1+math.Log10(float64(weight))*0.22)
}
