package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/contextpack"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/schema"
)

func TestEnrichSummarySynthesizesBreakdown(t *testing.T) {
	st := &runState{summary: &schema.Summary{Overview: "looks fine", Risk: "low"}}
	inline := []schema.Comment{
		comment("a.go", 1, schema.SeverityImportant),
		comment("a.go", 2, schema.SeverityNit),
		comment("b.go", 1, schema.SeverityBlocking),
	}

	enrichSummary(st, inline)

	require.Len(t, st.summary.FileBreakdown, 2)
	assert.Equal(t, "a.go", st.summary.FileBreakdown[0].Path)
	assert.Equal(t, 2, st.summary.FileBreakdown[0].Comments)
	assert.Contains(t, st.summary.FileBreakdown[1].Note, schema.SeverityBlocking)
}

func TestEnrichSummaryCreatesMissingSummary(t *testing.T) {
	st := &runState{}
	enrichSummary(st, nil)
	require.NotNil(t, st.summary)
	assert.NotEmpty(t, st.summary.Overview)
}

func TestEnrichSummaryKeepsEditorBreakdown(t *testing.T) {
	st := &runState{summary: &schema.Summary{
		Overview:      "ok",
		FileBreakdown: []schema.FileBreakdown{{Path: "keep.go", Comments: 1}},
	}}
	enrichSummary(st, []schema.Comment{comment("other.go", 1, schema.SeverityNit)})
	require.Len(t, st.summary.FileBreakdown, 1)
	assert.Equal(t, "keep.go", st.summary.FileBreakdown[0].Path)
}

func TestConfidenceScoreDropsWithSeverity(t *testing.T) {
	clean := confidenceScore("low", nil)
	risky := confidenceScore("high", []schema.Comment{
		{Severity: schema.SeverityBlocking},
		{Severity: schema.SeverityImportant},
	})
	assert.Greater(t, clean, risky)
	assert.InDelta(t, 0.9, clean, 0.001)
	assert.InDelta(t, 0.6-0.18-0.08, risky, 0.001)
}

func TestConfidenceScoreClipped(t *testing.T) {
	many := make([]schema.Comment, 10)
	for i := range many {
		many[i] = schema.Comment{Severity: schema.SeverityBlocking}
	}
	assert.Equal(t, 0.2, confidenceScore("high", many))
}

func TestMermaidFromLinksRespectsCaps(t *testing.T) {
	var links []contextpack.GraphLink
	for i := 0; i < 200; i++ {
		links = append(links, contextpack.GraphLink{
			From:  "pkg/very/deep/path/from" + string(rune('a'+i%26)) + ".go",
			To:    "pkg/very/deep/path/to" + string(rune('a'+i%26)) + ".go",
			Score: float64(200 - i),
		})
	}
	out := mermaidFromLinks(links)

	require.True(t, strings.HasPrefix(out, "graph LR\n"))
	edges := strings.Count(out, "-->")
	assert.LessOrEqual(t, edges, mermaidMaxEdges)
	nodes := strings.Count(out, "[")
	assert.LessOrEqual(t, nodes, mermaidMaxNodes)
	// Deep paths are shortened to their tail.
	assert.Contains(t, out, ".../")
}

func TestMermaidFromLinksEmpty(t *testing.T) {
	assert.Equal(t, "", mermaidFromLinks(nil))
}

func TestEnrichSummaryDiagramFallsBackToBipartite(t *testing.T) {
	st := &runState{
		summary: &schema.Summary{Overview: "ok"},
		pack: &contextpack.ContextPack{
			ChangedFileStats: []diffindex.Stat{{Path: "src/app.ts"}},
			RelatedFiles:     []contextpack.RelatedFile{{Path: "src/util/format.ts", Score: 0.5}},
		},
	}

	enrichSummary(st, nil)

	require.True(t, strings.HasPrefix(st.summary.DiagramMermaid, "graph LR\n"))
	assert.Contains(t, st.summary.DiagramMermaid, "app.ts")
	assert.Contains(t, st.summary.DiagramMermaid, "format.ts")
	assert.Contains(t, st.summary.DiagramMermaid, "-->")
}

func TestSpliceBodyBlockAppendsAndReplaces(t *testing.T) {
	body := spliceBodyBlock("Original description.", "review v1")
	assert.Contains(t, body, "Original description.")
	assert.Contains(t, body, "review v1")
	assert.Contains(t, body, bodyStartMarker)

	body = spliceBodyBlock(body, "review v2")
	assert.Contains(t, body, "Original description.")
	assert.Contains(t, body, "review v2")
	assert.NotContains(t, body, "review v1")
	assert.Equal(t, 1, strings.Count(body, bodyStartMarker))
}

func TestSpliceBodyBlockEmptyBody(t *testing.T) {
	body := spliceBodyBlock("   ", "content")
	assert.True(t, strings.HasPrefix(body, bodyStartMarker))
}

func findingFromComment(c schema.Comment) *model.Finding {
	return &model.Finding{
		Path:      c.Path,
		Line:      c.Line,
		Side:      c.Side,
		Severity:  c.Severity,
		Category:  c.Category,
		Title:     c.Title,
		Body:      c.Body,
		Evidence:  c.Evidence,
		CommentID: c.CommentID,
	}
}

func TestRenderInlineBodyCarriesMarker(t *testing.T) {
	f := findingFromComment(comment("a.go", 1, schema.SeverityImportant))
	body := renderInlineBody(f)
	assert.Contains(t, body, inlineMarkerPrefix+f.CommentID+" -->")
	assert.Contains(t, body, f.Title)
	assert.Contains(t, body, "```\n"+f.Evidence)
}
