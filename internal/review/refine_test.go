package review

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/schema"
)

const samplePatch = `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,4 +1,5 @@
 package main
+import "fmt"

 func main() {
-	println("hi")
+	fmt.Println("hi")
 }
`

func comment(path string, line int, severity string) schema.Comment {
	return schema.Comment{
		CommentID:  fmt.Sprintf("c-%s-%d", path, line),
		Path:       path,
		Side:       "RIGHT",
		Line:       line,
		Severity:   severity,
		Category:   schema.CategoryBug,
		Title:      fmt.Sprintf("issue at %s:%d", path, line),
		Body:       "something is off",
		Evidence:   "fmt.Println",
		Confidence: schema.ConfidenceHigh,
	}
}

func TestRefineDropsEmptyEvidence(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityImportant)
	c.Evidence = "   "

	res := refine(diff, []schema.Comment{c}, config.Default(), nil)

	assert.Empty(t, res.inline)
	require.Len(t, res.diagnostics, 1)
	assert.Contains(t, res.diagnostics[0], "no evidence")
}

func TestRefineDowngradesBlockingWithoutPatch(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityBlocking)

	res := refine(diff, []schema.Comment{c}, config.Default(), nil)

	require.Len(t, res.inline, 1)
	assert.Equal(t, schema.SeverityImportant, res.inline[0].Severity)
}

func TestRefineKeepsBlockingWithPatch(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityBlocking)
	c.SuggestedPatch = `import "fmt" // fixed`

	res := refine(diff, []schema.Comment{c}, config.Default(), nil)

	require.Len(t, res.inline, 1)
	assert.Equal(t, schema.SeverityBlocking, res.inline[0].Severity)
}

func TestRefineDeduplicatesByAnchorAndTitle(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	a := comment("main.go", 2, schema.SeverityImportant)
	b := comment("main.go", 2, schema.SeverityImportant)
	b.Title = "  Issue at main.go:2!  " // normalizes to the same title

	res := refine(diff, []schema.Comment{a, b}, config.Default(), nil)

	assert.Len(t, res.inline, 1)
}

func TestRefineMovesOffDiffToSummary(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 999, schema.SeverityImportant)

	res := refine(diff, []schema.Comment{c}, config.Default(), nil)

	assert.Empty(t, res.inline)
	require.Len(t, res.summaryComments, 1)
	assert.Equal(t, schema.CommentTypeSummary, res.summaryComments[0].CommentType)
}

func TestRefineSummaryOnlyRoutesEverything(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	cfg := config.Default()
	cfg.Output.SummaryOnly = true

	res := refine(diff, []schema.Comment{comment("main.go", 2, schema.SeverityImportant)}, cfg, nil)

	assert.Empty(t, res.inline)
	assert.Len(t, res.summaryComments, 1)
}

func TestRefineMutesDownvotedCategory(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityImportant)
	c.Category = schema.CategoryStyle

	res := refine(diff, []schema.Comment{c}, config.Default(), map[string]bool{schema.CategoryStyle: true})

	assert.Empty(t, res.inline)
}

func TestRefineMutingNeverDropsBlocking(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityBlocking)
	c.SuggestedPatch = "x"
	c.Category = schema.CategoryStyle

	res := refine(diff, []schema.Comment{c}, config.Default(), map[string]bool{schema.CategoryStyle: true})

	assert.Len(t, res.inline, 1)
}

func TestStrictnessHighFiltersLowConfidence(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	cfg := config.Default()
	cfg.Strictness = config.StrictnessHigh

	c := comment("main.go", 2, schema.SeverityImportant)
	c.Confidence = schema.ConfidenceLow

	res := refine(diff, []schema.Comment{c}, cfg, nil)
	assert.Empty(t, res.inline)

	cfg.Strictness = config.StrictnessLow
	res = refine(diff, []schema.Comment{c}, cfg, nil)
	assert.Len(t, res.inline, 1)
}

func TestRefineUnescapesDoubleEncodedText(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityImportant)
	c.Body = `first line\nsecond line`

	res := refine(diff, []schema.Comment{c}, config.Default(), nil)

	require.Len(t, res.inline, 1)
	assert.Equal(t, "first line\nsecond line", res.inline[0].Body)
}

func TestCapPerFileSpreadsBudget(t *testing.T) {
	// One hot file with many findings must not consume the whole budget.
	var comments []schema.Comment
	var patch string
	for f := 0; f < 4; f++ {
		path := fmt.Sprintf("f%d.go", f)
		patch += fmt.Sprintf("diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n@@ -1,0 +1,30 @@\n", path, path, path, path)
		for l := 1; l <= 30; l++ {
			patch += "+x\n"
		}
	}
	diff := diffindex.Parse(patch)
	for l := 1; l <= 12; l++ {
		comments = append(comments, comment("f0.go", l, schema.SeverityImportant))
	}
	for f := 1; f < 4; f++ {
		comments = append(comments, comment(fmt.Sprintf("f%d.go", f), 1, schema.SeverityImportant))
	}

	cfg := config.Default()
	cfg.Limits.MaxInlineComments = 8

	res := refine(diff, comments, cfg, nil)

	assert.LessOrEqual(t, len(res.inline), 8)
	perFile := map[string]int{}
	for _, c := range res.inline {
		perFile[c.Path]++
	}
	// 8 / ceil(sqrt(4)) = 4 per file at most.
	for path, n := range perFile {
		assert.LessOrEqual(t, n, 4, path)
	}
	for f := 1; f < 4; f++ {
		assert.Contains(t, perFile, fmt.Sprintf("f%d.go", f))
	}
}

func TestCapPerFileAppliesUnderGlobalLimit(t *testing.T) {
	// The per-file share binds even when the total is below the global cap:
	// 20 / ceil(sqrt(9)) = 6 comments per file.
	var comments []schema.Comment
	for l := 1; l <= 10; l++ {
		comments = append(comments, comment("hot.go", l, schema.SeverityNit))
	}
	for f := 1; f <= 8; f++ {
		comments = append(comments, comment(fmt.Sprintf("f%d.go", f), 1, schema.SeverityImportant))
	}

	var res refineResult
	out := capPerFile(comments, 20, &res)

	perFile := map[string]int{}
	for _, c := range out {
		perFile[c.Path]++
	}
	assert.Equal(t, 6, perFile["hot.go"])
	assert.Len(t, out, 14)
	// Surplus is dropped, not folded into the summary.
	assert.Empty(t, res.summaryComments)
	assert.Len(t, res.diagnostics, 4)
}

func TestCapPerFileDropsLowConfidenceFirst(t *testing.T) {
	low := comment("a.go", 1, schema.SeverityNit)
	low.Confidence = schema.ConfidenceLow
	high := comment("a.go", 2, schema.SeverityNit)
	high.Confidence = schema.ConfidenceHigh
	medium := comment("a.go", 3, schema.SeverityNit)
	medium.Confidence = schema.ConfidenceMedium
	comments := []schema.Comment{
		low, high, medium,
		comment("b.go", 1, schema.SeverityImportant),
		comment("c.go", 1, schema.SeverityImportant),
		comment("d.go", 1, schema.SeverityImportant),
	}

	var res refineResult
	// 4 files: per-file share is 4/2 = 2, global cap 4.
	out := capPerFile(comments, 4, &res)

	require.Len(t, out, 4)
	kept := map[string]bool{}
	for _, c := range out {
		kept[c.CommentID] = true
	}
	assert.True(t, kept[high.CommentID], "the confident nit survives")
	assert.False(t, kept[low.CommentID], "the uncertain nit is dropped first")
}

func TestStrictnessHighDropsAllNits(t *testing.T) {
	diff := diffindex.Parse(samplePatch)
	c := comment("main.go", 2, schema.SeverityNit)
	c.Confidence = schema.ConfidenceHigh

	cfg := config.Default()
	cfg.Strictness = config.StrictnessHigh
	res := refine(diff, []schema.Comment{c}, cfg, nil)
	assert.Empty(t, res.inline)

	cfg.Strictness = config.StrictnessMedium
	res = refine(diff, []schema.Comment{c}, cfg, nil)
	assert.Len(t, res.inline, 1)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, normalizeTitle("  Nil   Pointer, here! "), normalizeTitle("nil pointer here"))
	assert.NotEqual(t, normalizeTitle("nil pointer"), normalizeTitle("data race"))
}

func TestApplyVerdicts(t *testing.T) {
	keep := comment("a.go", 1, schema.SeverityImportant)
	drop := comment("a.go", 2, schema.SeverityImportant)
	revise := comment("a.go", 3, schema.SeverityImportant)
	revised := revise
	revised.Title = "sharper title"

	out := applyVerdicts(
		[]schema.Comment{keep, drop, revise},
		[]schema.Verdict{
			{CommentID: drop.CommentID, Verdict: schema.VerdictDrop},
			{CommentID: revise.CommentID, Verdict: schema.VerdictRevise, RevisedComment: &revised},
		},
	)

	require.Len(t, out, 2)
	assert.Equal(t, keep.CommentID, out[0].CommentID)
	assert.Equal(t, "sharper title", out[1].Title)
}

func TestApplyVerdictsInvalidRevisionFallsBack(t *testing.T) {
	orig := comment("a.go", 1, schema.SeverityImportant)
	bad := orig
	bad.Severity = "catastrophic"

	out := applyVerdicts(
		[]schema.Comment{orig},
		[]schema.Verdict{{CommentID: orig.CommentID, Verdict: schema.VerdictRevise, RevisedComment: &bad}},
	)

	require.Len(t, out, 1)
	assert.Equal(t, schema.SeverityImportant, out[0].Severity)
}

func TestMergeSupplementalSkipsDuplicates(t *testing.T) {
	base := comment("a.go", 1, schema.SeverityImportant)
	dup := base
	dup.Line = 5 // same title and category, different anchor
	fresh := comment("b.go", 1, schema.SeverityImportant)

	out := mergeSupplemental([]schema.Comment{base}, []schema.Comment{dup, fresh})

	assert.Len(t, out, 2)
}
