package contextpack

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"

	"github.com/grepiku/grepiku/internal/codegraph"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/model"
)

// Walk tuning constants.
const (
	maxTraceHops      = 8
	maxTraces         = 10
	improvementFactor = 1.05
	fallbackSeedSyms  = 2
)

// directionBias slightly prefers following dependencies over being
// depended upon.
func directionBias(incoming bool) float64 {
	if incoming {
		return 0.98
	}
	return 1.0
}

func nodeBias(nodeType string) float64 {
	switch nodeType {
	case model.NodeTypeFile:
		return 1.08
	case model.NodeTypeSymbol:
		return 0.95
	case model.NodeTypeModule:
		return 0.86
	case model.NodeTypeDirectory:
		return 0.80
	default:
		return 0.70
	}
}

// localFanout caps how many targets of one node type a single popped node
// may traverse to.
func localFanout(nodeType string) int {
	switch nodeType {
	case model.NodeTypeFile:
		return 12
	case model.NodeTypeSymbol:
		return 10
	case model.NodeTypeDirectory:
		return 4
	case model.NodeTypeModule:
		return 3
	default:
		return 2
	}
}

// globalBudget scales the per-type traversal budget by the visit cap.
func globalBudget(nodeType string, maxNodesVisited int) int {
	var frac float64
	switch nodeType {
	case model.NodeTypeFile:
		frac = 0.55
	case model.NodeTypeSymbol:
		frac = 0.30
	case model.NodeTypeDirectory:
		frac = 0.08
	case model.NodeTypeModule:
		frac = 0.04
	default:
		frac = 0.03
	}
	b := int(frac * float64(maxNodesVisited))
	if b < 8 {
		b = 8
	}
	return b
}

// walkResult is the graph contribution before fusion.
type walkResult struct {
	fileScore map[string]float64 // path -> best score (includes changed files)
	fileDepth map[string]int
	ranked    []rankedFile // non-changed files, best first
	links     []GraphLink
	traces    []string
	debug     GraphDebug
}

type rankedFile struct {
	path  string
	score float64
	depth int
}

type frontierItem struct {
	node  int
	score float64
	depth int
}

type frontier []frontierItem

func (f frontier) Len() int            { return len(f) }
func (f frontier) Less(i, j int) bool  { return f[i].score > f[j].score }
func (f frontier) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)         { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any           { old := *f; n := len(old); it := old[n-1]; *f = old[:n-1]; return it }

type parentLink struct {
	parent   int
	edgeType string
}

// walkGraph runs the budgeted best-first traversal from the diff seeds.
func walkGraph(g *codegraph.Graph, symbolsByPath map[string][]model.Symbol, diff *diffindex.Index, changed []string, cfg config.GraphConfig) *walkResult {
	res := &walkResult{
		fileScore: make(map[string]float64),
		fileDepth: make(map[string]int),
	}
	if g == nil || len(g.Nodes) == 0 {
		return res
	}
	tr := cfg.Traversal

	bestScore := make(map[int]float64)
	bestDepth := make(map[int]int)
	parents := make(map[int]parentLink)
	var fr frontier

	seed := func(idx int) {
		if idx < 0 {
			return
		}
		if _, ok := bestScore[idx]; ok {
			return
		}
		bestScore[idx] = 1
		bestDepth[idx] = 0
		heap.Push(&fr, frontierItem{node: idx, score: 1, depth: 0})
		res.debug.SeededNodes++
	}

	changedSet := make(map[string]bool, len(changed))
	for _, p := range changed {
		if excludedPath(p, cfg.ExcludeDirs) {
			continue
		}
		changedSet[p] = true
		seed(g.Lookup(model.NodeTypeFile, p))
		for _, s := range seedSymbols(symbolsByPath[p], diff, p) {
			seed(g.Lookup(model.NodeTypeSymbol, symbolNodeKey(p, s)))
		}
		// Directory chain and module.
		segs := strings.Split(p, "/")
		for i := 0; i < len(segs)-1; i++ {
			seed(g.Lookup(model.NodeTypeDirectory, strings.Join(segs[:i+1], "/")))
		}
		seed(g.Lookup(model.NodeTypeModule, moduleOfPath(p)))
	}

	globalUsed := make(map[string]int)

	for fr.Len() > 0 && res.debug.VisitedNodes < tr.MaxNodesVisited {
		item := heap.Pop(&fr).(frontierItem)
		// Stale entries are superseded by a better path to the node.
		if item.score < bestScore[item.node] {
			continue
		}
		res.debug.VisitedNodes++
		if item.depth >= tr.MaxDepth {
			continue
		}

		type cand struct {
			node     int
			edgeType string
			score    float64
			rank     float64
		}
		var cands []cand
		consider := func(edgeIdx int, incoming bool) {
			e := g.Edges[edgeIdx]
			if !codegraph.CanTraverse(e.Type, incoming) {
				return
			}
			target := e.To
			if incoming {
				target = e.From
			}
			next := item.score * codegraph.Multiplier(e.Type, incoming) * codegraph.WeightBoost(e.Weight)
			if next < tr.MinScore {
				return
			}
			cands = append(cands, cand{
				node:     target,
				edgeType: e.Type,
				score:    next,
				rank:     next * directionBias(incoming) * nodeBias(g.Nodes[target].Type),
			})
		}
		for _, ei := range g.Out(item.node) {
			consider(ei, false)
		}
		for _, ei := range g.In(item.node) {
			consider(ei, true)
		}
		sort.Slice(cands, func(a, b int) bool { return cands[a].rank > cands[b].rank })

		localUsed := make(map[string]int)
		for _, c := range cands {
			nt := g.Nodes[c.node].Type
			if localUsed[nt] >= localFanout(nt) {
				continue
			}
			if globalUsed[nt] >= globalBudget(nt, tr.MaxNodesVisited) {
				continue
			}
			localUsed[nt]++
			globalUsed[nt]++

			prev, seen := bestScore[c.node]
			depth := item.depth + 1
			improved := !seen || c.score > prev*improvementFactor || depth < bestDepth[c.node]
			if !improved {
				continue
			}
			if !seen || c.score > prev {
				bestScore[c.node] = c.score
			}
			bestDepth[c.node] = depth
			parents[c.node] = parentLink{parent: item.node, edgeType: c.edgeType}
			heap.Push(&fr, frontierItem{node: c.node, score: bestScore[c.node], depth: depth})
		}
	}

	// Collect reached files.
	reached := make(map[int]bool, len(bestScore))
	for idx, score := range bestScore {
		reached[idx] = true
		n := g.Nodes[idx]
		if n.Type != model.NodeTypeFile {
			continue
		}
		res.fileScore[n.Key] = score
		res.fileDepth[n.Key] = bestDepth[idx]
		if !changedSet[n.Key] {
			res.ranked = append(res.ranked, rankedFile{path: n.Key, score: score, depth: bestDepth[idx]})
		}
	}
	sort.Slice(res.ranked, func(a, b int) bool { return res.ranked[a].score > res.ranked[b].score })
	res.debug.RankedFiles = len(res.ranked)

	res.links = collectLinks(g, reached, bestScore, tr.MaxGraphLinks)

	for i, rf := range res.ranked {
		if i >= maxTraces {
			break
		}
		idx := g.Lookup(model.NodeTypeFile, rf.path)
		if trace := buildProvenanceTrace(g, parents, idx); trace != "" {
			res.traces = append(res.traces, trace)
		}
	}
	return res
}

// collectLinks gathers file_dep edges among reached nodes, deduped per
// (from, to) keeping the higher-scored link.
func collectLinks(g *codegraph.Graph, reached map[int]bool, bestScore map[int]float64, maxLinks int) []GraphLink {
	best := make(map[string]GraphLink)
	for _, e := range g.Edges {
		if e.Type != codegraph.EdgeFileDep && e.Type != codegraph.EdgeFileDepInferred {
			continue
		}
		if !reached[e.From] || !reached[e.To] {
			continue
		}
		score := (bestScore[e.From] + bestScore[e.To]) / 2
		key := g.Nodes[e.From].Key + "\x00" + g.Nodes[e.To].Key
		if prev, ok := best[key]; ok && prev.Score >= score {
			continue
		}
		best[key] = GraphLink{
			From:     g.Nodes[e.From].Key,
			To:       g.Nodes[e.To].Key,
			Type:     e.Type,
			Weight:   e.Weight,
			Score:    score,
			Examples: e.Examples,
		}
	}
	links := make([]GraphLink, 0, len(best))
	for _, l := range best {
		links = append(links, l)
	}
	sort.Slice(links, func(a, b int) bool {
		if links[a].Score != links[b].Score {
			return links[a].Score > links[b].Score
		}
		return links[a].From+links[a].To < links[b].From+links[b].To
	})
	if len(links) > maxLinks {
		links = links[:maxLinks]
	}
	return links
}

// buildProvenanceTrace walks the parent chain for up to eight hops and
// renders it seed-first.
func buildProvenanceTrace(g *codegraph.Graph, parents map[int]parentLink, node int) string {
	if node < 0 {
		return ""
	}
	type hop struct {
		label    string
		edgeType string
	}
	var hops []hop
	cur := node
	for i := 0; i < maxTraceHops; i++ {
		link, ok := parents[cur]
		if !ok {
			break
		}
		hops = append(hops, hop{label: g.Nodes[cur].Key, edgeType: link.edgeType})
		cur = link.parent
	}
	if len(hops) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(g.Nodes[cur].Key)
	for i := len(hops) - 1; i >= 0; i-- {
		b.WriteString(" --")
		b.WriteString(hops[i].edgeType)
		b.WriteString("--> ")
		b.WriteString(hops[i].label)
	}
	return b.String()
}

// seedSymbols picks the symbols of a changed file worth seeding: those whose
// range intersects a changed line, else up to two smallest-span symbols.
func seedSymbols(symbols []model.Symbol, diff *diffindex.Index, path string) []model.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	lines := changedNewLines(diff, path)
	var hit []model.Symbol
	for _, s := range symbols {
		for _, line := range lines {
			if line >= s.StartLine && line <= s.EndLine {
				hit = append(hit, s)
				break
			}
		}
	}
	if len(hit) > 0 {
		return hit
	}
	sorted := append([]model.Symbol(nil), symbols...)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].EndLine-sorted[a].StartLine < sorted[b].EndLine-sorted[b].StartLine
	})
	if len(sorted) > fallbackSeedSyms {
		sorted = sorted[:fallbackSeedSyms]
	}
	return sorted
}

// changedNewLines lists post-image line numbers of added lines in the file's
// hunks.
func changedNewLines(diff *diffindex.Index, path string) []int {
	var out []int
	for _, h := range diff.Hunks(path) {
		newLine := h.NewStart
		for _, l := range h.Lines {
			if len(l) == 0 {
				continue
			}
			switch l[0] {
			case '+':
				out = append(out, newLine)
				newLine++
			case '-':
			default:
				newLine++
			}
		}
	}
	return out
}

func symbolNodeKey(path string, s model.Symbol) string {
	return fmt.Sprintf("%s#%s:%d", path, s.Name, s.StartLine)
}

func excludedPath(p string, excludeDirs []string) bool {
	for _, d := range excludeDirs {
		if d == "" {
			continue
		}
		if p == d || strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

// moduleOfPath mirrors the graph builder's module keying.
func moduleOfPath(p string) string {
	if i := strings.IndexByte(p, '/'); i > 0 {
		return p[:i]
	}
	return codegraph.RootModule
}
