package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpecRenderSections(t *testing.T) {
	spec := &Spec{
		Role:  "You are a tester.",
		Goals: []string{"first goal", "second goal"},
		Inputs: []InputRef{
			{File: "diff.patch", Purpose: "the diff"},
		},
		Rules:    []string{"one rule"},
		Output:   "Write out.json.",
		Addendum: []string{"extra note"},
	}
	text := spec.Render()

	assert.True(t, strings.HasPrefix(text, "You are a tester.\n"))
	assert.Contains(t, text, "## Goals\n- first goal\n- second goal\n")
	assert.Contains(t, text, "- `diff.patch` — the diff")
	assert.Contains(t, text, "## Rules\n- one rule")
	assert.Contains(t, text, "## Output\nWrite out.json.")
	assert.Contains(t, text, "extra note")
}

func TestReviewerPromptIncludesHints(t *testing.T) {
	text := Reviewer(ReviewerInput{
		Rules:              []string{"prefer table-driven tests"},
		IncrementalBase:    "abc123",
		RejectedCategories: []string{"style"},
		MaxInlineComments:  20,
	})

	assert.Contains(t, text, "draft_review.json")
	assert.Contains(t, text, "at most 20 findings")
	assert.Contains(t, text, "incremental review")
	assert.Contains(t, text, "abc123")
	assert.Contains(t, text, "frequently dismiss")
	assert.Contains(t, text, "style")
	assert.Contains(t, text, "prefer table-driven tests")
}

func TestReviewerPromptOmitsEmptyHints(t *testing.T) {
	text := Reviewer(ReviewerInput{MaxInlineComments: 10})
	assert.NotContains(t, text, "incremental review")
	assert.NotContains(t, text, "frequently dismiss")
	assert.NotContains(t, text, "Repository instructions")
}

func TestEditorPromptEmbedsDraft(t *testing.T) {
	text := Editor(`{"comments":[]}`, "high")
	assert.Contains(t, text, `{"comments":[]}`)
	assert.Contains(t, text, "Strictness is high.")
	assert.Contains(t, text, "verdicts.json")
}

func TestVerifierPromptCarriesHead(t *testing.T) {
	text := Verifier("deadbeef")
	assert.Contains(t, text, `"deadbeef"`)
	assert.Contains(t, text, "checks.json")
}

func TestCoveragePromptListsTargets(t *testing.T) {
	text := Coverage([]string{"a.go", "b.go"})
	assert.Contains(t, text, "a.go, b.go")
	assert.Contains(t, text, "coverage_review.json")
}
