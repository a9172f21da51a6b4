package contextpack

import (
	"fmt"
	"path"
	"sort"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

// Fusion weights and cutoffs.
const (
	graphWeight       = 0.46
	retrievalWeight   = 0.40
	sameDirBonus      = 0.05
	openHotspotBonus  = 0.07
	histHotspotBonus  = 0.03
	minCombinedScore  = 0.045
	graphOnlyMinScore = 0.16
	graphOnlyMaxDepth = 4
	maxHotspotPaths   = 120
	maxFocusItems     = 14
	maxFocusLinks     = 10
	maxFocusTraces    = 4
	highChurnLines    = 120
	mediumChurnLines  = 40
)

// loadHotspots aggregates historical findings over the changed and
// candidate paths.
func loadHotspots(st *store.Store, repoID uint, changed []string, candidates []string) ([]Hotspot, map[string]*Hotspot, error) {
	seen := make(map[string]bool)
	var paths []string
	add := func(p string) {
		if p == "" || seen[p] || len(paths) >= maxHotspotPaths {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}
	for _, p := range changed {
		add(p)
	}
	for _, p := range candidates {
		add(p)
	}

	findings, err := st.FindingsForRepoPaths(repoID, paths)
	if err != nil {
		return nil, nil, err
	}

	byPath := make(map[string]*Hotspot)
	categories := make(map[string]map[string]int)
	for _, f := range findings {
		h := byPath[f.Path]
		if h == nil {
			h = &Hotspot{Path: f.Path}
			byPath[f.Path] = h
			categories[f.Path] = make(map[string]int)
		}
		h.HistoricalFindings++
		if f.Status == model.FindingStatusOpen {
			h.OpenFindings++
		}
		if f.Category != "" {
			categories[f.Path][f.Category]++
		}
	}
	for p, h := range byPath {
		h.TopCategories = topCategories(categories[p], 2)
	}

	out := make([]Hotspot, 0, len(byPath))
	for _, h := range byPath {
		out = append(out, *h)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].OpenFindings != out[b].OpenFindings {
			return out[a].OpenFindings > out[b].OpenFindings
		}
		if out[a].HistoricalFindings != out[b].HistoricalFindings {
			return out[a].HistoricalFindings > out[b].HistoricalFindings
		}
		return out[a].Path < out[b].Path
	})
	return out, byPath, nil
}

func topCategories(counts map[string]int, n int) []string {
	type kv struct {
		cat   string
		count int
	}
	var list []kv
	for c, cnt := range counts {
		list = append(list, kv{c, cnt})
	}
	sort.Slice(list, func(a, b int) bool {
		if list[a].count != list[b].count {
			return list[a].count > list[b].count
		}
		return list[a].cat < list[b].cat
	})
	var out []string
	for i, e := range list {
		if i >= n {
			break
		}
		out = append(out, e.cat)
	}
	return out
}

// depthBonus rewards shallow graph hops and penalizes deep ones.
func depthBonus(depth int) float64 {
	switch {
	case depth <= 1:
		return 0.08
	case depth == 2:
		return 0.04
	case depth == 3:
		return 0
	default:
		b := -0.06 * float64(depth-3)
		if b < -0.12 {
			b = -0.12
		}
		return b
	}
}

// fuse combines graph and retrieval candidates into the final related-file
// list.
func fuse(walk *walkResult, retrieved []RetrievedItem, changed []string, hotspots map[string]*Hotspot, cfg config.GraphTraversalConfig) []RelatedFile {
	changedSet := make(map[string]bool, len(changed))
	changedDirs := make(map[string]bool, len(changed))
	for _, p := range changed {
		changedSet[p] = true
		changedDirs[path.Dir(p)] = true
	}

	// Best retrieval score per non-changed path.
	retrievalByPath := make(map[string]float64)
	maxRetrieval := 0.0
	for _, it := range retrieved {
		if it.Path == "" || changedSet[it.Path] {
			continue
		}
		if it.Score > retrievalByPath[it.Path] {
			retrievalByPath[it.Path] = it.Score
		}
		if it.Score > maxRetrieval {
			maxRetrieval = it.Score
		}
	}

	type scored struct {
		RelatedFile
		graphOnly bool
	}
	byPath := make(map[string]*scored)
	for _, rf := range walk.ranked {
		byPath[rf.path] = &scored{
			RelatedFile: RelatedFile{Path: rf.path, GraphScore: rf.score, Depth: rf.depth},
			graphOnly:   true,
		}
	}
	for p, score := range retrievalByPath {
		s := byPath[p]
		if s == nil {
			s = &scored{RelatedFile: RelatedFile{Path: p}}
			byPath[p] = s
		}
		s.RetrievalScore = score
		s.graphOnly = false
	}

	var candidates []*scored
	for p, s := range byPath {
		hotspot := hotspots[p]
		hotSignal := hotspot != nil && (hotspot.OpenFindings > 0 || hotspot.HistoricalFindings > 0)
		if s.graphOnly && !hotSignal {
			if s.Depth > graphOnlyMaxDepth || s.GraphScore < graphOnlyMinScore {
				continue
			}
		}

		score := graphWeight * s.GraphScore
		if maxRetrieval > 0 {
			score += retrievalWeight * (s.RetrievalScore / maxRetrieval)
		}
		if hotspot != nil {
			if hotspot.OpenFindings > 0 {
				score += openHotspotBonus
			} else if hotspot.HistoricalFindings > 0 {
				score += histHotspotBonus
			}
		}
		if changedDirs[path.Dir(p)] {
			score += sameDirBonus
		}
		if s.GraphScore > 0 {
			score += depthBonus(s.Depth)
		}
		if score < minCombinedScore {
			continue
		}
		s.Score = score
		candidates = append(candidates, s)
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].Path < candidates[b].Path
	})

	maxRelated := cfg.MaxRelatedFiles
	if len(changed) <= 5 && maxRelated > 12 {
		// Small PRs do not need the full context width.
		maxRelated = maxRelated * 2 / 3
	}

	// Hard-include the strongest graph candidates first.
	hardCap := cfg.HardIncludeFiles
	if limit := cfg.MaxRelatedFiles / 3; hardCap > limit {
		hardCap = limit
	}
	picked := make(map[string]bool)
	var out []RelatedFile
	for _, s := range candidates {
		if len(out) >= hardCap {
			break
		}
		if s.GraphScore == 0 {
			continue
		}
		if s.Depth <= 2 || s.GraphScore >= 0.42 {
			s.HardIncluded = true
			picked[s.Path] = true
			out = append(out, s.RelatedFile)
		}
	}
	for _, s := range candidates {
		if len(out) >= maxRelated {
			break
		}
		if picked[s.Path] {
			continue
		}
		picked[s.Path] = true
		out = append(out, s.RelatedFile)
	}
	return out
}

// buildReviewFocus derives deduped reviewer hints from churn, hotspots,
// cross-file links, and provenance.
func buildReviewFocus(pack *ContextPack) []string {
	var focus []string
	seen := make(map[string]bool)
	add := func(hint string) {
		if hint == "" || seen[hint] || len(focus) >= maxFocusItems {
			return
		}
		seen[hint] = true
		focus = append(focus, hint)
	}

	for _, stat := range pack.ChangedFileStats {
		churn := stat.Additions + stat.Deletions
		switch {
		case churn >= highChurnLines:
			add(fmt.Sprintf("%s: large change (+%d/-%d), review carefully", stat.Path, stat.Additions, stat.Deletions))
		case churn >= mediumChurnLines:
			add(fmt.Sprintf("%s: substantial change (+%d/-%d)", stat.Path, stat.Additions, stat.Deletions))
		}
	}
	for _, h := range pack.Hotspots {
		if h.OpenFindings > 0 {
			add(fmt.Sprintf("%s: %d unresolved finding(s) from earlier reviews", h.Path, h.OpenFindings))
		}
	}
	links := 0
	for _, l := range pack.GraphLinks {
		if links >= maxFocusLinks {
			break
		}
		add(fmt.Sprintf("%s depends on %s (%s)", l.From, l.To, l.Type))
		links++
	}
	traces := 0
	for _, t := range pack.GraphPaths {
		if traces >= maxFocusTraces {
			break
		}
		add("context: " + t)
		traces++
	}
	return focus
}
