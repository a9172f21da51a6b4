package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 18, cfg.Retrieval.TopK)
	assert.Equal(t, 4, cfg.Retrieval.MaxPerPath)
	assert.Equal(t, 0.62, cfg.Retrieval.SemanticWeight)
	assert.Equal(t, 0.22, cfg.Retrieval.LexicalWeight)
	assert.Equal(t, 5, cfg.Graph.Traversal.MaxDepth)
	assert.Equal(t, 0.07, cfg.Graph.Traversal.MinScore)
	assert.Equal(t, 28, cfg.Graph.Traversal.MaxRelatedFiles)
	assert.Equal(t, 110, cfg.Graph.Traversal.MaxGraphLinks)
	assert.Equal(t, 2600, cfg.Graph.Traversal.MaxNodesVisited)
	assert.Equal(t, []string{"internal_harness"}, cfg.Graph.ExcludeDirs)
	assert.Equal(t, 20, cfg.Limits.MaxInlineComments)
	assert.Equal(t, 5, cfg.Limits.MaxKeyConcerns)
	assert.Equal(t, StrictnessMedium, cfg.Strictness)
	assert.Equal(t, DestinationComment, cfg.Output.Destination)
	assert.False(t, cfg.Output.SummaryOnly)
	assert.Equal(t, []string{"/review", "@bot"}, cfg.Triggers.CommentTriggers)
	assert.Equal(t, "Grepiku Review", cfg.StatusChecks.Name)
}

func TestResolveLayering(t *testing.T) {
	var repo, override Overlay
	require.NoError(t, yaml.Unmarshal([]byte(`
retrieval:
  top_k: 10
strictness: high
rules:
  - prefer table-driven tests
`), &repo))
	require.NoError(t, yaml.Unmarshal([]byte(`
retrieval:
  top_k: 24
limits:
  max_inline_comments: 5
rules:
  - never suggest renames
`), &override))

	cfg := Resolve(&repo, &override)
	// Later layers win on scalars.
	assert.Equal(t, 24, cfg.Retrieval.TopK)
	// Untouched fields keep defaults.
	assert.Equal(t, 4, cfg.Retrieval.MaxPerPath)
	assert.Equal(t, StrictnessHigh, cfg.Strictness)
	assert.Equal(t, 5, cfg.Limits.MaxInlineComments)
	// Rules accumulate across layers.
	assert.Equal(t, []string{"prefer table-driven tests", "never suggest renames"}, cfg.Rules)
}

func TestResolveNilLayers(t *testing.T) {
	cfg := Resolve(nil, nil)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRepoOverlay(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, RepoConfigFile), []byte(`
strictness: low
triggers:
  exclude_keywords: [WIP]
`), 0o644))

	overlay, warnings, err := LoadRepoOverlay(root)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.NotNil(t, overlay)

	cfg := Resolve(overlay)
	assert.Equal(t, StrictnessLow, cfg.Strictness)
	assert.Equal(t, []string{"WIP"}, cfg.Triggers.ExcludeKeywords)
}

func TestLoadRepoOverlayMissing(t *testing.T) {
	overlay, warnings, err := LoadRepoOverlay(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, overlay)
	assert.Empty(t, warnings)
}

func TestLoadRepoOverlayMalformed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, RepoConfigFile), []byte("strictness: [oops\n"), 0o644))

	overlay, warnings, err := LoadRepoOverlay(root)
	require.NoError(t, err)
	assert.Nil(t, overlay)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "malformed")
}

func TestShouldReviewPredicates(t *testing.T) {
	t.Run("defaults accept", func(t *testing.T) {
		tr := Default().Triggers
		ok, _ := tr.ShouldReview("main", "alice", "Add cache", nil, false)
		assert.True(t, ok)
	})

	t.Run("draft skipped unless enabled", func(t *testing.T) {
		tr := Default().Triggers
		ok, reason := tr.ShouldReview("main", "alice", "Add cache", nil, true)
		assert.False(t, ok)
		assert.Contains(t, reason, "draft")

		tr.ReviewDrafts = true
		ok, _ = tr.ShouldReview("main", "alice", "Add cache", nil, true)
		assert.True(t, ok)
	})

	t.Run("manual only", func(t *testing.T) {
		tr := Default().Triggers
		tr.ManualOnly = true
		ok, _ := tr.ShouldReview("main", "alice", "Add cache", nil, false)
		assert.False(t, ok)
	})

	t.Run("branch globs", func(t *testing.T) {
		tr := Default().Triggers
		tr.Branches = []string{"main", "release/**"}
		ok, _ := tr.ShouldReview("release/v2/hotfix", "alice", "x", nil, false)
		assert.True(t, ok)
		ok, _ = tr.ShouldReview("feature/x", "alice", "x", nil, false)
		assert.False(t, ok)
	})

	t.Run("exclusions", func(t *testing.T) {
		tr := Default().Triggers
		tr.ExcludeAuthors = []string{"Renovate[bot]"}
		ok, _ := tr.ShouldReview("main", "renovate[bot]", "chore: bump deps", nil, false)
		assert.False(t, ok)

		tr = Default().Triggers
		tr.ExcludeKeywords = []string{"wip"}
		ok, _ = tr.ShouldReview("main", "alice", "WIP: refactor", nil, false)
		assert.False(t, ok)

		tr = Default().Triggers
		tr.ExcludeLabels = []string{"no-review"}
		ok, _ = tr.ShouldReview("main", "alice", "x", []string{"no-review"}, false)
		assert.False(t, ok)
	})
}

func TestMatchComment(t *testing.T) {
	tr := Default().Triggers
	assert.Equal(t, CommentTriggerReview, tr.MatchComment("/review please"))
	assert.Equal(t, CommentTriggerMention, tr.MatchComment("hey @bot what about this?"))
	assert.Equal(t, CommentTriggerNone, tr.MatchComment("looks good to me"))
}
