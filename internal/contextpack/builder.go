package contextpack

import (
	"context"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/codegraph"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
)

// Builder assembles context packs. The embedding snapshot and graph are
// loaded once per Build call.
type Builder struct {
	store    *store.Store
	embedder embedding.Provider
	graphs   *codegraph.Builder
}

// NewBuilder creates a context pack Builder.
func NewBuilder(st *store.Store, embedder embedding.Provider) *Builder {
	return &Builder{
		store:    st,
		embedder: embedder,
		graphs:   codegraph.NewBuilder(st),
	}
}

// Input carries everything one Build call needs.
type Input struct {
	RepoID uint
	Title  string
	Body   string
	Diff   *diffindex.Index
	Cfg    config.ResolvedConfig
}

// Build assembles the context pack for a diff.
func (b *Builder) Build(ctx context.Context, in Input) (*ContextPack, error) {
	changed := in.Diff.Files()
	changedSet := make(map[string]bool, len(changed))
	for _, p := range changed {
		changedSet[p] = true
	}

	pack := &ContextPack{
		Query:            BuildQuery(in.Title, in.Body, in.Diff),
		ChangedFileStats: in.Diff.Stats(),
	}

	retrieved, err := retrieve(ctx, b.store, b.embedder, in.RepoID, pack.Query, changedSet, in.Cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	pack.Retrieved = retrieved

	graph, err := b.graphs.Load(in.RepoID)
	if err != nil {
		return nil, err
	}
	symbolsByPath, err := b.symbolsByPath(in.RepoID)
	if err != nil {
		return nil, err
	}
	walk := walkGraph(graph, symbolsByPath, in.Diff, changed, in.Cfg.Graph)
	pack.GraphLinks = walk.links
	pack.GraphPaths = walk.traces
	pack.GraphDebug = walk.debug

	candidatePaths := make([]string, 0, len(walk.ranked)+len(retrieved))
	for _, rf := range walk.ranked {
		candidatePaths = append(candidatePaths, rf.path)
	}
	for _, it := range retrieved {
		candidatePaths = append(candidatePaths, it.Path)
	}
	hotspots, hotspotIndex, err := loadHotspots(b.store, in.RepoID, changed, candidatePaths)
	if err != nil {
		return nil, err
	}
	pack.Hotspots = hotspots

	pack.RelatedFiles = fuse(walk, retrieved, changed, hotspotIndex, in.Cfg.Graph.Traversal)
	pack.ReviewFocus = buildReviewFocus(pack)

	logger.Debug("Context pack assembled",
		zap.Uint("repo_id", in.RepoID),
		zap.Int("retrieved", len(pack.Retrieved)),
		zap.Int("related_files", len(pack.RelatedFiles)),
		zap.Int("graph_links", len(pack.GraphLinks)),
		zap.Int("visited_nodes", pack.GraphDebug.VisitedNodes),
	)
	return pack, nil
}

func (b *Builder) symbolsByPath(repoID uint) (map[string][]model.Symbol, error) {
	files, err := b.store.ListFiles(repoID)
	if err != nil {
		return nil, err
	}
	pathByID := make(map[uint]string, len(files))
	for _, f := range files {
		pathByID[f.ID] = f.Path
	}
	symbols, err := b.store.ListSymbols(repoID)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]model.Symbol)
	for _, s := range symbols {
		if p, ok := pathByID[s.FileID]; ok {
			out[p] = append(out[p], s)
		}
	}
	return out, nil
}
