// Package reconcile follows findings across review runs: drafts from the
// current run are matched against previously-open findings so comments update
// in place, and priors that no longer reproduce are swept to fixed or
// obsolete.
package reconcile

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
)

// titleSimilarityThreshold gates the semantic fallback match.
const titleSimilarityThreshold = 0.72

// Draft is one finding produced by the current run, before reconciliation.
type Draft struct {
	Path           string
	Line           int
	Side           diffindex.Side
	Severity       string
	Category       string
	Title          string
	Body           string
	Evidence       string
	SuggestedPatch string
	Confidence     string
	RuleID         string
	RuleReason     string
	CommentID      string
	CommentKey     string
}

// Result summarizes one reconciliation pass.
type Result struct {
	// Open holds every finding open after the pass, drafts first.
	Open     []model.Finding
	Created  int
	Updated  int
	Fixed    int
	Obsolete int
}

// Reconciler matches drafts to prior findings and sweeps the rest.
type Reconciler struct {
	store *store.Store
	dmp   *diffmatchpatch.DiffMatchPatch
}

// New creates a Reconciler.
func New(st *store.Store) *Reconciler {
	return &Reconciler{store: st, dmp: diffmatchpatch.New()}
}

// Run reconciles the drafts of a review run against the PR's open findings.
// Incremental mode restricts the fixed-sweep to paths in the current diff:
// findings outside the delta stay open and are carried over.
func (r *Reconciler) Run(run *model.ReviewRun, pullRequestID uint, diff *diffindex.Index, drafts []Draft, incremental bool) (*Result, error) {
	priors, err := r.store.OpenFindings(pullRequestID)
	if err != nil {
		return nil, err
	}

	diffFiles := make(map[string]bool)
	for _, p := range diff.Files() {
		diffFiles[p] = true
	}

	res := &Result{}
	claimed := make(map[uint]bool, len(priors))

	for _, draft := range drafts {
		keys := draftKeys(diff, draft)
		prior := r.match(priors, claimed, draft, keys)
		if prior != nil {
			claimed[prior.ID] = true
			updateInPlace(prior, draft, keys, run.ID)
			if err := r.store.SaveFinding(prior); err != nil {
				return nil, err
			}
			res.Updated++
			res.Open = append(res.Open, *prior)
			continue
		}

		f := model.Finding{
			PullRequestID:  pullRequestID,
			RunID:          run.ID,
			LastSeenRunID:  run.ID,
			Status:         model.FindingStatusOpen,
			Fingerprint:    keys.fingerprint,
			MatchKey:       keys.matchKey,
			HunkHash:       keys.hunkHash,
			ContextHash:    keys.contextHash,
			Path:           draft.Path,
			Line:           draft.Line,
			Side:           string(draft.Side),
			Severity:       draft.Severity,
			Category:       draft.Category,
			Title:          draft.Title,
			Body:           draft.Body,
			Evidence:       draft.Evidence,
			SuggestedPatch: draft.SuggestedPatch,
			CommentID:      draft.CommentID,
			CommentKey:     draft.CommentKey,
			Confidence:     draft.Confidence,
			RuleID:         draft.RuleID,
			RuleReason:     draft.RuleReason,
		}
		if err := r.store.CreateFinding(&f); err != nil {
			return nil, err
		}
		res.Created++
		res.Open = append(res.Open, f)
	}

	// Sweep priors that no draft claimed.
	for i := range priors {
		prior := &priors[i]
		if claimed[prior.ID] {
			continue
		}
		switch {
		case !diffFiles[prior.Path] && incremental:
			// Outside the delta of an incremental run: carried over.
			res.Open = append(res.Open, *prior)
			continue
		case !diffFiles[prior.Path]:
			prior.Status = model.FindingStatusObsolete
			res.Obsolete++
		default:
			prior.Status = model.FindingStatusFixed
			res.Fixed++
		}
		prior.LastSeenRunID = run.ID
		if err := r.store.SaveFinding(prior); err != nil {
			return nil, err
		}
	}

	logger.Info("Findings reconciled",
		zap.String("run_id", run.ID),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("fixed", res.Fixed),
		zap.Int("obsolete", res.Obsolete),
	)
	return res, nil
}

// keys are the digests computed for one draft.
type keys struct {
	fingerprint string
	matchKey    string
	hunkHash    string
	contextHash string
}

func draftKeys(diff *diffindex.Index, d Draft) keys {
	fp := diffindex.Digest(d.Category, d.Title, d.Path)
	hh := diff.HunkHash(d.Path, d.Line, d.Side)
	return keys{
		fingerprint: fp,
		matchKey:    diffindex.Digest(fp, d.Path, hh, d.Title),
		hunkHash:    hh,
		contextHash: diff.ContextHash(d.Path, d.Line, d.Side),
	}
}

// match tries the strategies in order against unclaimed priors. The
// semantic strategy is strictly a fallback: it never overrides an exact or
// hunk-based match.
func (r *Reconciler) match(priors []model.Finding, claimed map[uint]bool, d Draft, k keys) *model.Finding {
	unclaimed := func(f *model.Finding) bool { return !claimed[f.ID] }

	// 1. Exact match key.
	if f := nearestBy(priors, d.Line, func(f *model.Finding) bool {
		return unclaimed(f) && f.MatchKey == k.matchKey
	}); f != nil {
		return f
	}
	// 2. Same path, hunk hash, and category.
	if k.hunkHash != "" {
		if f := nearestBy(priors, d.Line, func(f *model.Finding) bool {
			return unclaimed(f) && f.Path == d.Path && f.HunkHash == k.hunkHash && f.Category == d.Category
		}); f != nil {
			return f
		}
	}
	// 3. Semantic: same path and category, similar title.
	if f := nearestBy(priors, d.Line, func(f *model.Finding) bool {
		return unclaimed(f) && f.Path == d.Path && f.Category == d.Category &&
			r.titleSimilarity(f.Title, d.Title) >= titleSimilarityThreshold
	}); f != nil {
		return f
	}
	// 4. Same path, category, and normalized title.
	return nearestBy(priors, d.Line, func(f *model.Finding) bool {
		return unclaimed(f) && f.Path == d.Path && f.Category == d.Category &&
			normalizeTitle(f.Title) == normalizeTitle(d.Title)
	})
}

// nearestBy returns the matching prior whose line is closest to the draft's.
func nearestBy(priors []model.Finding, line int, pred func(*model.Finding) bool) *model.Finding {
	var best *model.Finding
	bestDist := -1
	for i := range priors {
		f := &priors[i]
		if !pred(f) {
			continue
		}
		dist := f.Line - line
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best = f
			bestDist = dist
		}
	}
	return best
}

func updateInPlace(f *model.Finding, d Draft, k keys, runID string) {
	f.Line = d.Line
	f.Side = string(d.Side)
	f.Severity = d.Severity
	f.Title = d.Title
	f.Body = d.Body
	f.Evidence = d.Evidence
	f.SuggestedPatch = d.SuggestedPatch
	f.Confidence = d.Confidence
	f.RuleID = d.RuleID
	f.RuleReason = d.RuleReason
	f.Fingerprint = k.fingerprint
	f.MatchKey = k.matchKey
	f.HunkHash = k.hunkHash
	f.ContextHash = k.contextHash
	f.LastSeenRunID = runID
	f.Status = model.FindingStatusOpen
}

// titleSimilarity is a normalized edit-distance similarity in [0, 1].
func (r *Reconciler) titleSimilarity(a, b string) float64 {
	a, b = normalizeTitle(a), normalizeTitle(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	diffs := r.dmp.DiffMain(a, b, false)
	dist := r.dmp.DiffLevenshtein(diffs)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1 - float64(dist)/float64(longest)
}

// normalizeTitle lowercases, strips punctuation, and collapses whitespace.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SortOpen orders findings for deterministic posting: path, then line.
func SortOpen(findings []model.Finding) {
	sort.Slice(findings, func(a, b int) bool {
		if findings[a].Path != findings[b].Path {
			return findings[a].Path < findings[b].Path
		}
		return findings[a].Line < findings[b].Line
	})
}
