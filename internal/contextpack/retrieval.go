package contextpack

import (
	"context"
	"math"
	"path"
	"sort"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
)

// Retrieval paging limits.
const (
	embeddingPageSize = 2000
	maxEmbeddings     = 80000
	rrfConstant       = 50.0
	queryPathBonus    = 0.04
)

// candidate is one embedding under scoring.
type candidate struct {
	emb      model.Embedding
	path     string
	symbol   string
	pattern  bool
	semantic float64
	lexical  float64
	score    float64
}

// retrieve runs hybrid retrieval: semantic plus lexical scoring over an
// embedding snapshot, fused with reciprocal-rank mixing and path boosts.
func retrieve(ctx context.Context, st *store.Store, embedder embedding.Provider, repoID uint, query string, changed map[string]bool, cfg config.RetrievalConfig) ([]RetrievedItem, error) {
	queryVecs, err := embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := queryVecs[0]
	queryToks := tokenize(query)

	changedDirs := make(map[string]bool, len(changed))
	for p := range changed {
		changedDirs[path.Dir(p)] = true
	}

	candidates, fileIDs, symbolIDs, err := snapshotEmbeddings(st, repoID, maxEmbeddings)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	files, err := st.FilesByID(fileIDs)
	if err != nil {
		return nil, err
	}
	symbols, err := st.SymbolsByID(symbolIDs)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		c := &candidates[i]
		if c.emb.FileID != nil {
			if f, ok := files[*c.emb.FileID]; ok {
				c.path = f.Path
				c.pattern = f.IsPattern
			}
		}
		if c.emb.SymbolID != nil {
			if s, ok := symbols[*c.emb.SymbolID]; ok {
				c.symbol = s.Name
			}
		}
		c.semantic = (embedding.Cosine(queryVec, c.emb.Vector) + 1) / 2

		text := c.emb.Text
		if len(text) > lexicalTextCap {
			text = text[:lexicalTextCap]
		}
		docToks := pathTokens(c.path)
		for tok := range tokenize(c.symbol) {
			docToks[tok] = true
		}
		for tok := range tokenize(text) {
			docToks[tok] = true
		}
		c.lexical = jaccard(queryToks, docToks)
	}

	rrf := rrfScores(candidates)

	for i := range candidates {
		c := &candidates[i]
		score := cfg.SemanticWeight*c.semantic +
			cfg.LexicalWeight*c.lexical +
			cfg.RRFWeight*rrf[i]

		if changed[c.path] {
			score += cfg.ChangedPathBoost
		} else if changedDirs[path.Dir(c.path)] {
			score += cfg.SameDirectoryBoost
		}
		if pathMentionedInQuery(queryToks, c.path) {
			score += queryPathBonus
		}
		switch c.emb.Kind {
		case model.EmbeddingKindSymbol:
			score += cfg.SymbolBoost
		case model.EmbeddingKindChunk:
			score += cfg.ChunkBoost
		}
		if c.pattern {
			score += cfg.PatternBoost
		}
		c.score = score
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	return selectCandidates(candidates, changed, cfg), nil
}

// snapshotEmbeddings pages the repo's embeddings newest-first into candidate
// slots, stopping exactly at limit. The snapshot gives the scoring walk one
// consistent view even while the indexer rebuilds.
func snapshotEmbeddings(st *store.Store, repoID uint, limit int) ([]candidate, []uint, []uint, error) {
	var candidates []candidate
	var fileIDs []uint
	var symbolIDs []uint
	beforeID := uint(0)
	for len(candidates) < limit {
		page, err := st.PageEmbeddings(repoID, beforeID, embeddingPageSize)
		if err != nil {
			return nil, nil, nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, emb := range page {
			if len(candidates) >= limit {
				break
			}
			candidates = append(candidates, candidate{emb: emb})
			if emb.FileID != nil {
				fileIDs = append(fileIDs, *emb.FileID)
			}
			if emb.SymbolID != nil {
				symbolIDs = append(symbolIDs, *emb.SymbolID)
			}
		}
		beforeID = page[len(page)-1].ID
	}
	return candidates, fileIDs, symbolIDs, nil
}

// rrfScores fuses the semantic and lexical rankings with reciprocal-rank
// fusion, normalized to [0, 1].
func rrfScores(candidates []candidate) []float64 {
	n := len(candidates)
	semRank := rankOf(candidates, func(c *candidate) float64 { return c.semantic })
	lexRank := rankOf(candidates, func(c *candidate) float64 { return c.lexical })

	norm := 2.0 / (rrfConstant + 1)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		raw := 1/(rrfConstant+float64(semRank[i])) + 1/(rrfConstant+float64(lexRank[i]))
		out[i] = raw / norm
	}
	return out
}

func rankOf(candidates []candidate, key func(*candidate) float64) []int {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return key(&candidates[order[a]]) > key(&candidates[order[b]])
	})
	ranks := make([]int, len(candidates))
	for rank, idx := range order {
		ranks[idx] = rank + 1
	}
	return ranks
}

// pathMentionedInQuery reports whether any path-segment token of the
// candidate path appears in the query tokens.
func pathMentionedInQuery(queryToks map[string]bool, p string) bool {
	if p == "" {
		return false
	}
	base := path.Base(p)
	for tok := range tokenize(base) {
		if queryToks[tok] {
			return true
		}
	}
	return false
}

// selectCandidates fills the topK: anchors first (best item per changed
// path), then greedy by score under the per-path cap, then overflow.
func selectCandidates(sorted []candidate, changed map[string]bool, cfg config.RetrievalConfig) []RetrievedItem {
	topK := cfg.TopK
	if topK <= 0 {
		return nil
	}
	anchorSlots := int(math.Ceil(float64(topK) / 3))
	if anchorSlots < 2 {
		anchorSlots = 2
	}

	picked := make([]bool, len(sorted))
	perPath := make(map[string]int)
	var out []RetrievedItem

	take := func(i int) {
		c := &sorted[i]
		picked[i] = true
		perPath[c.path]++
		out = append(out, RetrievedItem{
			Path:     c.path,
			Kind:     c.emb.Kind,
			Symbol:   c.symbol,
			Score:    c.score,
			Semantic: c.semantic,
			Lexical:  c.lexical,
			Pattern:  c.pattern,
			Snippet:  snippet(c.emb.Text),
		})
	}

	// Anchors: the single best item per changed path.
	anchored := make(map[string]bool)
	for i := range sorted {
		if len(out) >= anchorSlots || len(out) >= topK {
			break
		}
		c := &sorted[i]
		if !changed[c.path] || anchored[c.path] {
			continue
		}
		anchored[c.path] = true
		take(i)
	}

	// Greedy fill under the per-path cap.
	for i := range sorted {
		if len(out) >= topK {
			break
		}
		if picked[i] || perPath[sorted[i].path] >= cfg.MaxPerPath {
			continue
		}
		take(i)
	}

	// Overflow: relax the per-path cap only if slots remain.
	for i := range sorted {
		if len(out) >= topK {
			break
		}
		if picked[i] {
			continue
		}
		take(i)
	}
	return out
}

const snippetCap = 400

func snippet(text string) string {
	if len(text) > snippetCap {
		return text[:snippetCap]
	}
	return text
}
