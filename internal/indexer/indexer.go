package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/embedding"
	"github.com/grepiku/grepiku/internal/indexer/treesitter"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

const (
	// DefaultEmbedBatch is the number of texts sent per embedding request.
	DefaultEmbedBatch = 16
	// fileEmbedCap limits the content prepended with the path for the
	// per-file embedding input.
	fileEmbedCap = 6000
)

// Options tune an index pass.
type Options struct {
	// Force re-indexes files whose content hash is unchanged.
	Force bool
	// IsPattern marks the repo's rows as pattern-repository exemplars.
	IsPattern bool
	// EmbedBatch overrides the embedding batch size.
	EmbedBatch int
}

// Stats summarizes one index pass.
type Stats struct {
	Scanned    int
	Indexed    int
	Skipped    int
	Unchanged  int
	ParseFails int
	Embeddings int
}

// Indexer walks a checkout and persists file, symbol, reference, and
// embedding rows.
type Indexer struct {
	store    *store.Store
	embedder embedding.Provider
	parser   *treesitter.Parser
}

// New creates an Indexer.
func New(st *store.Store, embedder embedding.Provider) *Indexer {
	return &Indexer{
		store:    st,
		embedder: embedder,
		parser:   treesitter.NewParser(),
	}
}

// Close releases parser resources.
func (ix *Indexer) Close() {
	ix.parser.Close()
}

// IndexRepo indexes the checkout at root for the given repo.
// Per-file parser errors are logged and skipped; they never fail the pass.
func (ix *Indexer) IndexRepo(ctx context.Context, repoID uint, root string, opts Options) (*Stats, error) {
	batch := opts.EmbedBatch
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}

	files, err := walkCheckout(root)
	if err != nil {
		return nil, fmt.Errorf("walk checkout: %w", err)
	}

	stats := &Stats{Scanned: len(files)}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		content, language, ok := classify(f)
		if !ok {
			stats.Skipped++
			telemetry.IndexedFilesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		seen[f.Path] = true

		hash := contentHash(content)
		existing, err := ix.store.GetFileByPath(repoID, f.Path, opts.IsPattern)
		if err != nil {
			return stats, err
		}
		if existing != nil && existing.ContentHash == hash && !opts.Force {
			stats.Unchanged++
			telemetry.IndexedFilesTotal.WithLabelValues("unchanged").Inc()
			continue
		}

		if err := ix.indexFile(ctx, repoID, f, content, language, hash, opts, batch, stats); err != nil {
			return stats, err
		}
		stats.Indexed++
		telemetry.IndexedFilesTotal.WithLabelValues("indexed").Inc()
	}

	// Remove rows for files no longer present.
	if err := ix.store.DeleteFileArtifacts(repoID, opts.IsPattern, seen); err != nil {
		return stats, err
	}

	logger.Info("Index pass completed",
		zap.Uint("repo_id", repoID),
		zap.Int("scanned", stats.Scanned),
		zap.Int("indexed", stats.Indexed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("skipped", stats.Skipped),
		zap.Int("parse_fails", stats.ParseFails),
	)
	return stats, nil
}

func (ix *Indexer) indexFile(ctx context.Context, repoID uint, f WalkedFile, content []byte, language, hash string, opts Options, batch int, stats *Stats) error {
	var symbols []model.Symbol
	var refs []model.SymbolReference

	if treesitter.Supported(f.Path) {
		parsed, err := ix.parser.Parse(ctx, f.Path, content)
		if err != nil {
			// Parser errors are per-file: log and index without symbols.
			stats.ParseFails++
			logger.Warn("Parse failed, indexing without symbols",
				zap.String("path", f.Path), zap.Error(err))
			parsed = &treesitter.Result{}
		}
		for _, sym := range parsed.Symbols {
			symbols = append(symbols, model.Symbol{
				RepoID:    repoID,
				Name:      sym.Name,
				Kind:      sym.Kind,
				StartLine: sym.StartLine,
				EndLine:   sym.EndLine,
				Signature: sym.Signature,
				Hash:      symbolHash(sym),
			})
		}
		for _, ref := range parsed.References {
			refs = append(refs, model.SymbolReference{
				RepoID:  repoID,
				RefName: ref.Name,
				Line:    ref.Line,
				Kind:    ref.Kind,
			})
		}
	}

	texts, kinds := embedInputs(f.Path, string(content), symbols)
	vectors, err := ix.embedAll(ctx, texts, batch)
	if err != nil {
		return fmt.Errorf("embed %s: %w", f.Path, err)
	}

	file := &model.FileIndex{
		RepoID:      repoID,
		Path:        f.Path,
		IsPattern:   opts.IsPattern,
		Language:    normalizeLanguage(language),
		ContentHash: hash,
		Size:        f.Size,
	}

	embeds := make([]model.Embedding, 0, len(vectors))
	for i, vec := range vectors {
		embeds = append(embeds, model.Embedding{
			RepoID: repoID,
			Kind:   kinds[i],
			Vector: vec,
			Text:   texts[i],
		})
	}
	stats.Embeddings += len(embeds)

	if err := ix.store.ReplaceFileArtifacts(file, symbols, refs, embeds); err != nil {
		return err
	}
	return nil
}

// embedInputs builds the embedding input texts for a file: one file-level
// input, one per symbol, and line-aware chunks.
func embedInputs(path, content string, symbols []model.Symbol) (texts []string, kinds []string) {
	fileInput := path + "\n" + content
	if len(fileInput) > fileEmbedCap {
		fileInput = fileInput[:fileEmbedCap]
	}
	texts = append(texts, fileInput)
	kinds = append(kinds, model.EmbeddingKindFile)

	for _, sym := range symbols {
		texts = append(texts, strings.TrimSpace(sym.Name+" "+sym.Signature))
		kinds = append(kinds, model.EmbeddingKindSymbol)
	}

	for _, chunk := range ChunkLines(content, DefaultMaxChunkChars, DefaultOverlapChars, DefaultMaxChunks) {
		texts = append(texts, chunk.Text)
		kinds = append(kinds, model.EmbeddingKindChunk)
	}
	return texts, kinds
}

func (ix *Indexer) embedAll(ctx context.Context, texts []string, batch int) ([]model.Vector, error) {
	out := make([]model.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vectors {
			out = append(out, model.Vector(v))
		}
	}
	return out, nil
}

// contentHash returns a 32-hex blake3 digest of the content.
func contentHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])[:32]
}

// symbolHash fingerprints a symbol declaration; stable over identical
// content and parser version.
func symbolHash(sym treesitter.Symbol) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d",
		sym.Name, sym.Kind, sym.Signature, sym.StartLine, sym.EndLine)))
	return hex.EncodeToString(sum[:])[:16]
}
