package review

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grepiku/grepiku/internal/contextpack"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/schema"
)

// Mermaid diagrams past this size stop rendering usefully in PR comments.
const (
	mermaidMaxNodes = 28
	mermaidMaxEdges = 42
)

// enrichSummary fills the gaps the editor left: a file breakdown, the
// dependency diagram, and a calibrated confidence score.
func enrichSummary(st *runState, inline []schema.Comment) {
	if st.summary == nil {
		st.summary = &schema.Summary{Overview: "No findings."}
	}
	all := append(append([]schema.Comment{}, inline...), st.summaryExtras...)

	if len(st.summary.FileBreakdown) == 0 {
		st.summary.FileBreakdown = synthesizeBreakdown(all)
	}
	if st.summary.DiagramMermaid == "" && st.pack != nil {
		diagram := mermaidFromLinks(st.pack.GraphLinks)
		if diagram == "" {
			diagram = mermaidFromLinks(bipartiteLinks(st.pack.ChangedFileStats, st.pack.RelatedFiles))
		}
		st.summary.DiagramMermaid = diagram
	}
	if st.summary.Confidence == 0 {
		st.summary.Confidence = confidenceScore(st.summary.Risk, all)
	}
}

func synthesizeBreakdown(comments []schema.Comment) []schema.FileBreakdown {
	counts := make(map[string]int)
	worst := make(map[string]string)
	for _, c := range comments {
		counts[c.Path]++
		if severityRank(c.Severity) < severityRank(worst[c.Path]) || worst[c.Path] == "" {
			worst[c.Path] = c.Severity
		}
	}
	paths := make([]string, 0, len(counts))
	for p := range counts {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		if counts[paths[i]] != counts[paths[j]] {
			return counts[paths[i]] > counts[paths[j]]
		}
		return paths[i] < paths[j]
	})
	out := make([]schema.FileBreakdown, 0, len(paths))
	for _, p := range paths {
		out = append(out, schema.FileBreakdown{
			Path:     p,
			Comments: counts[p],
			Note:     "worst: " + worst[p],
		})
	}
	return out
}

// mermaidFromLinks renders the strongest dependency edges among reviewed
// files as a left-to-right graph, or "" when there is nothing to draw.
func mermaidFromLinks(links []contextpack.GraphLink) string {
	if len(links) == 0 {
		return ""
	}
	sorted := append([]contextpack.GraphLink{}, links...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	ids := make(map[string]string)
	nodeID := func(path string) (string, bool) {
		if id, ok := ids[path]; ok {
			return id, true
		}
		if len(ids) >= mermaidMaxNodes {
			return "", false
		}
		id := fmt.Sprintf("n%d", len(ids))
		ids[path] = id
		return id, true
	}

	var b strings.Builder
	b.WriteString("graph LR\n")
	declared := make(map[string]bool)
	edges := 0
	for _, l := range sorted {
		if edges >= mermaidMaxEdges {
			break
		}
		from, ok := nodeID(l.From)
		if !ok {
			continue
		}
		to, ok := nodeID(l.To)
		if !ok {
			continue
		}
		for _, pair := range [][2]string{{from, l.From}, {to, l.To}} {
			if !declared[pair[0]] {
				fmt.Fprintf(&b, "    %s[%q]\n", pair[0], mermaidLabel(pair[1]))
				declared[pair[0]] = true
			}
		}
		fmt.Fprintf(&b, "    %s --> %s\n", from, to)
		edges++
	}
	if edges == 0 {
		return ""
	}
	return b.String()
}

// bipartiteLinks sketches changed files pointing at the retrieved related
// files, for repos whose graph surfaced no dependency edges.
func bipartiteLinks(changed []diffindex.Stat, related []contextpack.RelatedFile) []contextpack.GraphLink {
	links := make([]contextpack.GraphLink, 0, len(changed)*len(related))
	for _, c := range changed {
		for _, r := range related {
			links = append(links, contextpack.GraphLink{From: c.Path, To: r.Path, Score: r.Score})
		}
	}
	return links
}

// mermaidLabel shortens deep paths to their last two segments.
func mermaidLabel(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return ".../" + strings.Join(parts[len(parts)-2:], "/")
	}
	return path
}

// confidenceScore derives a 0.2..0.95 confidence from the stated risk and
// the finding severity mix: more and worse findings mean the review is less
// confident the change is safe.
func confidenceScore(risk string, comments []schema.Comment) float64 {
	base := 0.8
	switch strings.ToLower(risk) {
	case "low":
		base = 0.9
	case "medium":
		base = 0.75
	case "high":
		base = 0.6
	}
	for _, c := range comments {
		switch c.Severity {
		case schema.SeverityBlocking:
			base -= 0.18
		case schema.SeverityImportant:
			base -= 0.08
		default:
			base -= 0.02
		}
	}
	if base < 0.2 {
		return 0.2
	}
	if base > 0.95 {
		return 0.95
	}
	return base
}
