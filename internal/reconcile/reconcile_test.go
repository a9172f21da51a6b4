package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/database"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

const basePatch = `diff --git a/src/foo.ts b/src/foo.ts
--- a/src/foo.ts
+++ b/src/foo.ts
@@ -40,7 +40,8 @@
 function handle(req) {
   const user = req.user
+  if (!user) return
   const id = user.id
   return lookup(id)
 }
`

// shiftedPatch is the same hunk moved down five lines by an unrelated edit.
const shiftedPatch = `diff --git a/src/foo.ts b/src/foo.ts
--- a/src/foo.ts
+++ b/src/foo.ts
@@ -45,7 +45,8 @@
 function handle(req) {
   const user = req.user
+  if (!user) return
   const id = user.id
   return lookup(id)
 }
`

func newReconciler(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	st := store.New(db)
	return New(st), st
}

func newRun(t *testing.T, st *store.Store, id string) *model.ReviewRun {
	t.Helper()
	run := &model.ReviewRun{ID: id, PullRequestID: 1, HeadSHA: "sha-" + id, Status: model.RunStatusRunning}
	require.NoError(t, st.CreateRun(run))
	return run
}

func nullCheckDraft() Draft {
	return Draft{
		Path:     "src/foo.ts",
		Line:     42,
		Side:     diffindex.SideRight,
		Severity: "major",
		Category: "correctness",
		Title:    "Missing null check on user",
		Body:     "user may be undefined",
	}
}

func TestReconcileCreatesNewFindings(t *testing.T) {
	r, st := newReconciler(t)
	run := newRun(t, st, "run1")
	diff := diffindex.Parse(basePatch)

	res, err := r.Run(run, 1, diff, []Draft{nullCheckDraft()}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Updated)
	require.Len(t, res.Open, 1)

	f := res.Open[0]
	assert.Equal(t, model.FindingStatusOpen, f.Status)
	assert.Equal(t, "run1", f.RunID)
	assert.Equal(t, "run1", f.LastSeenRunID)
	assert.Len(t, f.Fingerprint, 16)
	assert.NotEmpty(t, f.MatchKey)
	assert.NotEmpty(t, f.HunkHash)
}

func TestReconcileExactRematch(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	res1, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{nullCheckDraft()}, false)
	require.NoError(t, err)
	firstID := res1.Open[0].ID

	d := nullCheckDraft()
	d.Body = "updated explanation"
	res2, err := r.Run(newRun(t, st, "run2"), 1, diff, []Draft{d}, false)
	require.NoError(t, err)
	assert.Zero(t, res2.Created)
	assert.Equal(t, 1, res2.Updated)
	require.Len(t, res2.Open, 1)
	assert.Equal(t, firstID, res2.Open[0].ID)
	assert.Equal(t, "updated explanation", res2.Open[0].Body)
	assert.Equal(t, "run1", res2.Open[0].RunID)
	assert.Equal(t, "run2", res2.Open[0].LastSeenRunID)
}

func TestReconcileFollowsLineShift(t *testing.T) {
	r, st := newReconciler(t)

	_, err := r.Run(newRun(t, st, "run1"), 1, diffindex.Parse(basePatch), []Draft{nullCheckDraft()}, false)
	require.NoError(t, err)

	// Same issue, five lines lower after an unrelated edit above it.
	d := nullCheckDraft()
	d.Line = 47
	res, err := r.Run(newRun(t, st, "run2"), 1, diffindex.Parse(shiftedPatch), []Draft{d}, false)
	require.NoError(t, err)
	assert.Zero(t, res.Created, "hunk hash should carry the match across the shift")
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 47, res.Open[0].Line)
}

func TestReconcileSemanticFallback(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	_, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{nullCheckDraft()}, false)
	require.NoError(t, err)

	// Reworded title, line off the diff: no hunk hash, so only the
	// semantic match can fire.
	d := nullCheckDraft()
	d.Title = "Missing null check on the user"
	d.Line = 60
	res, err := r.Run(newRun(t, st, "run2"), 1, diff, []Draft{d}, false)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Updated)
}

func TestReconcileSweepsFixedAndObsolete(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	inDiff := nullCheckDraft()
	offDiff := Draft{Path: "src/old.ts", Line: 5, Side: diffindex.SideRight, Category: "style", Title: "Dead code"}
	_, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{inDiff, offDiff}, false)
	require.NoError(t, err)

	// Next run reports nothing.
	res, err := r.Run(newRun(t, st, "run2"), 1, diff, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fixed, "finding on a diff path that vanished is fixed")
	assert.Equal(t, 1, res.Obsolete, "finding off the diff is obsolete")
	assert.Empty(t, res.Open)

	open, err := st.OpenFindings(1)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReconcileIncrementalCarriesOver(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	offDiff := Draft{Path: "src/old.ts", Line: 5, Side: diffindex.SideRight, Category: "style", Title: "Dead code"}
	_, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{offDiff}, false)
	require.NoError(t, err)

	// Incremental: the untouched path stays open and is carried over.
	res, err := r.Run(newRun(t, st, "run2"), 1, diff, nil, true)
	require.NoError(t, err)
	assert.Zero(t, res.Fixed)
	assert.Zero(t, res.Obsolete)
	require.Len(t, res.Open, 1)
	assert.Equal(t, "src/old.ts", res.Open[0].Path)
	assert.Equal(t, model.FindingStatusOpen, res.Open[0].Status)
}

func TestReconcileTieBreakNearestLine(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	near := nullCheckDraft()
	near.Line = 42
	far := nullCheckDraft()
	far.Line = 45
	res1, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{near, far}, false)
	require.NoError(t, err)
	require.Equal(t, 2, res1.Created)

	// One draft at line 44: the nearer prior (45) must win, and only once.
	d := nullCheckDraft()
	d.Line = 44
	res2, err := r.Run(newRun(t, st, "run2"), 1, diff, []Draft{d}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Updated)
	require.Len(t, res2.Open, 1)
	assert.Equal(t, 44, res2.Open[0].Line)

	var updated model.Finding
	require.NoError(t, st.DB().First(&updated, res2.Open[0].ID).Error)
	assert.Equal(t, model.FindingStatusOpen, updated.Status)
}

func TestReconcileNeverReusesClaimedPrior(t *testing.T) {
	r, st := newReconciler(t)
	diff := diffindex.Parse(basePatch)

	_, err := r.Run(newRun(t, st, "run1"), 1, diff, []Draft{nullCheckDraft()}, false)
	require.NoError(t, err)

	// Two identical drafts: one updates the prior, the other is new.
	res, err := r.Run(newRun(t, st, "run2"), 1, diff, []Draft{nullCheckDraft(), nullCheckDraft()}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Created)
}

func TestTitleSimilarity(t *testing.T) {
	r, _ := newReconciler(t)
	assert.Equal(t, 1.0, r.titleSimilarity("Missing null check", "missing null check!"))
	assert.Greater(t, r.titleSimilarity("Missing null check on user", "Missing null check on the user"), titleSimilarityThreshold)
	assert.Less(t, r.titleSimilarity("Missing null check", "SQL injection in query builder"), titleSimilarityThreshold)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "missing null check", normalizeTitle("  Missing   NULL-check! "))
}
