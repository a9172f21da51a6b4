// Package store provides the data access layer over the GORM models.
// It is the single seam between the pipeline components and the database.
package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/grepiku/grepiku/internal/model"
	apperrors "github.com/grepiku/grepiku/pkg/errors"
)

// Store wraps a database handle with typed operations.
type Store struct {
	db *gorm.DB
}

// New creates a Store over the given database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transactional composition.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction executes operations within a database transaction.
func (s *Store) Transaction(fn func(*Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// UpsertProvider finds or creates a provider by (kind, base_url).
func (s *Store) UpsertProvider(kind, baseURL string) (*model.Provider, error) {
	var p model.Provider
	err := s.db.Where(model.Provider{Kind: kind, BaseURL: baseURL}).
		FirstOrCreate(&p).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "upsert provider", err)
	}
	return &p, nil
}

// UpsertInstallation finds or creates an installation by (provider, external id).
func (s *Store) UpsertInstallation(providerID uint, externalID string) (*model.Installation, error) {
	var inst model.Installation
	err := s.db.Where(model.Installation{ProviderID: providerID, ExternalID: externalID}).
		FirstOrCreate(&inst).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "upsert installation", err)
	}
	return &inst, nil
}

// LinkRepoInstallation records that a repo belongs to an installation.
func (s *Store) LinkRepoInstallation(repoID, installationID uint) error {
	link := model.RepoInstallation{RepoID: repoID, InstallationID: installationID}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "link repo installation", err)
	}
	return nil
}

// UpsertRepo finds or creates a repo by (provider, external id) and refreshes
// its mutable fields.
func (s *Store) UpsertRepo(providerID uint, externalID, owner, name, fullName, defaultBranch string) (*model.Repo, error) {
	var repo model.Repo
	err := s.db.Where(model.Repo{ProviderID: providerID, ExternalID: externalID}).
		Assign(model.Repo{Owner: owner, Name: name, FullName: fullName, DefaultBranch: defaultBranch}).
		FirstOrCreate(&repo).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "upsert repo", err)
	}
	return &repo, nil
}

// GetRepo loads a repo by id.
func (s *Store) GetRepo(id uint) (*model.Repo, error) {
	var repo model.Repo
	if err := s.db.First(&repo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound("repo")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get repo", err)
	}
	return &repo, nil
}

// UpsertUser finds or creates a user by (provider, external id) and refreshes
// the login.
func (s *Store) UpsertUser(providerID uint, externalID, login string) (*model.User, error) {
	var user model.User
	err := s.db.Where(model.User{ProviderID: providerID, ExternalID: externalID}).
		Assign(model.User{Login: login}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "upsert user", err)
	}
	return &user, nil
}

// UpsertPullRequest finds or creates a PR by (repo, number) and refreshes its
// mutable fields.
func (s *Store) UpsertPullRequest(pr *model.PullRequest) (*model.PullRequest, error) {
	var existing model.PullRequest
	err := s.db.Where("repo_id = ? AND number = ?", pr.RepoID, pr.Number).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(pr).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "create pull request", err)
		}
		return pr, nil
	case err != nil:
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "find pull request", err)
	}

	existing.ExternalID = pr.ExternalID
	existing.Title = pr.Title
	existing.Body = pr.Body
	existing.State = pr.State
	existing.BaseRef = pr.BaseRef
	existing.HeadRef = pr.HeadRef
	existing.BaseSHA = pr.BaseSHA
	existing.HeadSHA = pr.HeadSHA
	existing.Draft = pr.Draft
	if pr.AuthorID != 0 {
		existing.AuthorID = pr.AuthorID
	}
	if err := s.db.Save(&existing).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "update pull request", err)
	}
	return &existing, nil
}

// GetPullRequest loads a PR by id.
func (s *Store) GetPullRequest(id uint) (*model.PullRequest, error) {
	var pr model.PullRequest
	if err := s.db.First(&pr, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound("pull request")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get pull request", err)
	}
	return &pr, nil
}

// GetPullRequestByNumber loads a PR by (repo, number).
func (s *Store) GetPullRequestByNumber(repoID uint, number int) (*model.PullRequest, error) {
	var pr model.PullRequest
	err := s.db.Where("repo_id = ? AND number = ?", repoID, number).First(&pr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound("pull request")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get pull request", err)
	}
	return &pr, nil
}

// InstallationForRepo resolves the installation linked to a repository, or
// nil when the repo is not linked.
func (s *Store) InstallationForRepo(repoID uint) (*model.Installation, error) {
	var link model.RepoInstallation
	err := s.db.Where("repo_id = ?", repoID).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "installation for repo", err)
	}
	return s.GetInstallation(link.InstallationID)
}

// GetInstallation loads an installation by id.
func (s *Store) GetInstallation(id uint) (*model.Installation, error) {
	var inst model.Installation
	if err := s.db.First(&inst, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound("installation")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get installation", err)
	}
	return &inst, nil
}
