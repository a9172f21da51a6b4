package store

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/grepiku/grepiku/internal/model"
	apperrors "github.com/grepiku/grepiku/pkg/errors"
)

// CreateRun inserts a new review run.
func (s *Store) CreateRun(run *model.ReviewRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "create review run", err)
	}
	return nil
}

// SaveRun persists run mutations.
func (s *Store) SaveRun(run *model.ReviewRun) error {
	if err := s.db.Save(run).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "save review run", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(id string) (*model.ReviewRun, error) {
	var run model.ReviewRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrCodeRunNotFound, "review run not found")
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "get review run", err)
	}
	return &run, nil
}

// LatestRun returns the most recent run of a PR, or nil when none exists.
func (s *Store) LatestRun(pullRequestID uint) (*model.ReviewRun, error) {
	var run model.ReviewRun
	err := s.db.Where("pull_request_id = ?", pullRequestID).
		Order("created_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "latest run", err)
	}
	return &run, nil
}

// LatestCompletedRun returns the most recent completed run of a PR, or nil.
func (s *Store) LatestCompletedRun(pullRequestID uint) (*model.ReviewRun, error) {
	var run model.ReviewRun
	err := s.db.Where("pull_request_id = ? AND status = ?", pullRequestID, model.RunStatusCompleted).
		Order("created_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "latest completed run", err)
	}
	return &run, nil
}

// CompleteRun marks a run terminal with the given status.
func (s *Store) CompleteRun(run *model.ReviewRun, status model.RunStatus, errMsg string) error {
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.ErrorMessage = errMsg
	return s.SaveRun(run)
}

// OpenFindings returns the open findings of a PR ordered by path, line.
func (s *Store) OpenFindings(pullRequestID uint) ([]model.Finding, error) {
	var findings []model.Finding
	err := s.db.Where("pull_request_id = ? AND status = ?", pullRequestID, model.FindingStatusOpen).
		Order("path, line").Find(&findings).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "open findings", err)
	}
	return findings, nil
}

// FindingsForRepoPaths returns all findings (any status) of a repo whose path
// is in the given set. Used for hotspot aggregation.
func (s *Store) FindingsForRepoPaths(repoID uint, paths []string) ([]model.Finding, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var findings []model.Finding
	err := s.db.
		Joins("JOIN pull_requests ON pull_requests.id = findings.pull_request_id").
		Where("pull_requests.repo_id = ? AND findings.path IN ?", repoID, paths).
		Find(&findings).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "findings for paths", err)
	}
	return findings, nil
}

// FindingsForPR returns every finding of a PR regardless of status.
func (s *Store) FindingsForPR(pullRequestID uint) ([]model.Finding, error) {
	var findings []model.Finding
	err := s.db.Where("pull_request_id = ?", pullRequestID).Find(&findings).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "findings for pr", err)
	}
	return findings, nil
}

// SweptFindings returns the findings a run moved to fixed or obsolete.
func (s *Store) SweptFindings(pullRequestID uint, runID string) ([]model.Finding, error) {
	var findings []model.Finding
	err := s.db.Where("pull_request_id = ? AND last_seen_run_id = ? AND status IN ?",
		pullRequestID, runID, []model.FindingStatus{model.FindingStatusFixed, model.FindingStatusObsolete}).
		Find(&findings).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "swept findings", err)
	}
	return findings, nil
}

// CreateFinding inserts a new finding.
func (s *Store) CreateFinding(f *model.Finding) error {
	if err := s.db.Create(f).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "create finding", err)
	}
	return nil
}

// SaveFinding persists finding mutations.
func (s *Store) SaveFinding(f *model.Finding) error {
	if err := s.db.Save(f).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "save finding", err)
	}
	return nil
}

// FindingByProviderComment resolves a finding from a forge comment id.
func (s *Store) FindingByProviderComment(pullRequestID uint, providerCommentID string) (*model.Finding, error) {
	var f model.Finding
	err := s.db.Where("pull_request_id = ? AND provider_comment_id = ?", pullRequestID, providerCommentID).
		First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "finding by comment", err)
	}
	return &f, nil
}

// UpsertReviewComment records a posted comment keyed by provider comment id.
func (s *Store) UpsertReviewComment(c *model.ReviewComment) error {
	var existing model.ReviewComment
	err := s.db.Where("pull_request_id = ? AND kind = ? AND provider_comment_id = ?",
		c.PullRequestID, c.Kind, c.ProviderCommentID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(c).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrCodeDBQuery, "create review comment", err)
		}
		return nil
	case err != nil:
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "find review comment", err)
	}
	existing.Body = c.Body
	existing.URL = c.URL
	existing.FindingID = c.FindingID
	if err := s.db.Save(&existing).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "update review comment", err)
	}
	c.ID = existing.ID
	return nil
}

// SummaryComment returns the status summary comment of a PR, or nil.
func (s *Store) SummaryComment(pullRequestID uint) (*model.ReviewComment, error) {
	var c model.ReviewComment
	err := s.db.Where("pull_request_id = ? AND kind = ?", pullRequestID, model.CommentKindSummary).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "summary comment", err)
	}
	return &c, nil
}

// AddFeedback records reviewer feedback against a run.
func (s *Store) AddFeedback(f *model.Feedback) error {
	if err := s.db.Create(f).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "add feedback", err)
	}
	return nil
}

// FeedbackByRun returns all feedback entries against the given runs.
func (s *Store) FeedbackByRun(runIDs []string) ([]model.Feedback, error) {
	if len(runIDs) == 0 {
		return nil, nil
	}
	var feedback []model.Feedback
	if err := s.db.Where("review_run_id IN ?", runIDs).Find(&feedback).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "feedback by run", err)
	}
	return feedback, nil
}

// RunsForPR returns the run ids of a PR, newest first.
func (s *Store) RunsForPR(pullRequestID uint) ([]model.ReviewRun, error) {
	var runs []model.ReviewRun
	err := s.db.Where("pull_request_id = ?", pullRequestID).
		Order("created_at DESC").Find(&runs).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDBQuery, "runs for pr", err)
	}
	return runs, nil
}

// SaveRunStat upserts the per-run analytics aggregate.
func (s *Store) SaveRunStat(stat *model.RunStat) error {
	var existing model.RunStat
	err := s.db.Where("review_run_id = ?", stat.ReviewRunID).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(stat).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrCodeDBQuery, "create run stat", err)
		}
		return nil
	case err != nil:
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "find run stat", err)
	}
	stat.ID = existing.ID
	if err := s.db.Save(stat).Error; err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDBQuery, "update run stat", err)
	}
	return nil
}
