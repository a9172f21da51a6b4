package store

import (
	"errors"

	"gorm.io/gorm"

	"github.com/grepiku/grepiku/internal/model"
	apperrors "github.com/grepiku/grepiku/pkg/errors"
)

// GetFileByPath loads a file index row by (repo, path, is_pattern).
func (s *Store) GetFileByPath(repoID uint, path string, isPattern bool) (*model.FileIndex, error) {
	var f model.FileIndex
	err := s.db.Where("repo_id = ? AND path = ? AND is_pattern = ?", repoID, path, isPattern).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get file", err)
	}
	return &f, nil
}

// ListFiles returns all indexed non-pattern files of a repo.
func (s *Store) ListFiles(repoID uint) ([]model.FileIndex, error) {
	var files []model.FileIndex
	err := s.db.Where("repo_id = ? AND is_pattern = ?", repoID, false).
		Order("path").Find(&files).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "list files", err)
	}
	return files, nil
}

// ListSymbols returns all symbols of a repo.
func (s *Store) ListSymbols(repoID uint) ([]model.Symbol, error) {
	var symbols []model.Symbol
	err := s.db.Where("repo_id = ?", repoID).Order("file_id, start_line").Find(&symbols).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "list symbols", err)
	}
	return symbols, nil
}

// ListReferences returns all symbol references of a repo.
func (s *Store) ListReferences(repoID uint) ([]model.SymbolReference, error) {
	var refs []model.SymbolReference
	err := s.db.Where("repo_id = ?", repoID).Order("file_id, line").Find(&refs).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "list references", err)
	}
	return refs, nil
}

// ReplaceFileArtifacts atomically replaces the index rows for one file:
// the FileIndex row and its symbols, references, and embeddings. Symbol-kind
// embeddings arrive in symbol order and are joined to the created symbol rows
// by position.
func (s *Store) ReplaceFileArtifacts(file *model.FileIndex, symbols []model.Symbol, refs []model.SymbolReference, embeds []model.Embedding) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var prior model.FileIndex
		err := tx.Where("repo_id = ? AND path = ? AND is_pattern = ?",
			file.RepoID, file.Path, file.IsPattern).First(&prior).Error
		if err == nil {
			if err := tx.Where("file_id = ?", prior.ID).Delete(&model.Symbol{}).Error; err != nil {
				return err
			}
			if err := tx.Where("file_id = ?", prior.ID).Delete(&model.SymbolReference{}).Error; err != nil {
				return err
			}
			if err := tx.Where("file_id = ?", prior.ID).Delete(&model.Embedding{}).Error; err != nil {
				return err
			}
			file.ID = prior.ID
			file.CreatedAt = prior.CreatedAt
			if err := tx.Save(file).Error; err != nil {
				return err
			}
		} else if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(file).Error; err != nil {
				return err
			}
		} else {
			return err
		}

		for i := range symbols {
			symbols[i].FileID = file.ID
			symbols[i].RepoID = file.RepoID
		}
		if len(symbols) > 0 {
			if err := tx.CreateInBatches(symbols, 200).Error; err != nil {
				return err
			}
		}
		for i := range refs {
			refs[i].FileID = file.ID
			refs[i].RepoID = file.RepoID
		}
		if len(refs) > 0 {
			if err := tx.CreateInBatches(refs, 200).Error; err != nil {
				return err
			}
		}
		symIdx := 0
		for i := range embeds {
			embeds[i].RepoID = file.RepoID
			if embeds[i].FileID == nil {
				id := file.ID
				embeds[i].FileID = &id
			}
			if embeds[i].Kind == model.EmbeddingKindSymbol && embeds[i].SymbolID == nil && symIdx < len(symbols) {
				id := symbols[symIdx].ID
				embeds[i].SymbolID = &id
				symIdx++
			}
		}
		if len(embeds) > 0 {
			if err := tx.CreateInBatches(embeds, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFileArtifacts removes all index rows for files of a repo that are no
// longer present in the checkout.
func (s *Store) DeleteFileArtifacts(repoID uint, isPattern bool, keepPaths map[string]bool) error {
	var stale []model.FileIndex
	err := s.db.Where("repo_id = ? AND is_pattern = ?", repoID, isPattern).Find(&stale).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "list stale files", err)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, f := range stale {
			if keepPaths[f.Path] {
				continue
			}
			if err := tx.Where("file_id = ?", f.ID).Delete(&model.Symbol{}).Error; err != nil {
				return err
			}
			if err := tx.Where("file_id = ?", f.ID).Delete(&model.SymbolReference{}).Error; err != nil {
				return err
			}
			if err := tx.Where("file_id = ?", f.ID).Delete(&model.Embedding{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Delete(&model.FileIndex{}, f.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// PageEmbeddings returns up to limit embeddings of a repo with id < beforeID,
// in descending-id order. Pass 0 for the first page.
func (s *Store) PageEmbeddings(repoID uint, beforeID uint, limit int) ([]model.Embedding, error) {
	q := s.db.Where("repo_id = ?", repoID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var embeds []model.Embedding
	if err := q.Order("id DESC").Limit(limit).Find(&embeds).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "page embeddings", err)
	}
	return embeds, nil
}

// FilesByID loads the files referenced by a set of ids into a map.
func (s *Store) FilesByID(ids []uint) (map[uint]model.FileIndex, error) {
	out := make(map[uint]model.FileIndex, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var files []model.FileIndex
	if err := s.db.Where("id IN ?", ids).Find(&files).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "files by id", err)
	}
	for _, f := range files {
		out[f.ID] = f
	}
	return out, nil
}

// SymbolsByID loads the symbols referenced by a set of ids into a map.
func (s *Store) SymbolsByID(ids []uint) (map[uint]model.Symbol, error) {
	out := make(map[uint]model.Symbol, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var symbols []model.Symbol
	if err := s.db.Where("id IN ?", ids).Find(&symbols).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "symbols by id", err)
	}
	for _, sym := range symbols {
		out[sym.ID] = sym
	}
	return out, nil
}

// ReplaceGraph atomically drops and re-inserts the derived graph of a repo.
// Node FromNodeID/ToNodeID in edges index into nodes by slice position and
// are rewritten to database ids on insert.
func (s *Store) ReplaceGraph(repoID uint, nodes []model.GraphNode, edges []model.GraphEdge) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("repo_id = ?", repoID).Delete(&model.GraphEdge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repo_id = ?", repoID).Delete(&model.GraphNode{}).Error; err != nil {
			return err
		}
		for i := range nodes {
			nodes[i].ID = 0
			nodes[i].RepoID = repoID
		}
		if len(nodes) > 0 {
			if err := tx.CreateInBatches(nodes, 200).Error; err != nil {
				return err
			}
		}
		for i := range edges {
			edges[i].ID = 0
			edges[i].RepoID = repoID
			edges[i].FromNodeID = nodes[edges[i].FromNodeID].ID
			edges[i].ToNodeID = nodes[edges[i].ToNodeID].ID
		}
		if len(edges) > 0 {
			if err := tx.CreateInBatches(edges, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadGraph loads the persisted graph of a repo.
func (s *Store) LoadGraph(repoID uint) ([]model.GraphNode, []model.GraphEdge, error) {
	var nodes []model.GraphNode
	if err := s.db.Where("repo_id = ?", repoID).Find(&nodes).Error; err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "load graph nodes", err)
	}
	var edges []model.GraphEdge
	if err := s.db.Where("repo_id = ?", repoID).Find(&edges).Error; err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "load graph edges", err)
	}
	return nodes, edges, nil
}
