package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/consts"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/schema"
	"github.com/grepiku/grepiku/internal/worktree"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// ReplyJob posts one reply to a comment that mentioned the bot.
type ReplyJob struct {
	Provider  string `json:"provider"`
	RepoID    uint   `json:"repo_id"`
	Number    int    `json:"number"`
	CommentID int64  `json:"comment_id"`
	Body      string `json:"body"`
}

// mentionMarker tags bot replies so the scheduler never re-triggers on them.
const mentionMarker = consts.MentionMarkerFormat

// HandleReviewQueue is the review-queue dispatcher handler.
func (o *Orchestrator) HandleReviewQueue(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindReview:
		payload, ok := job.Payload.(*Job)
		if !ok {
			return errors.New(errors.ErrCodeValidation, "review job has wrong payload type")
		}
		return o.Run(ctx, payload)
	case queue.KindCommentReply:
		payload, ok := job.Payload.(*ReplyJob)
		if !ok {
			return errors.New(errors.ErrCodeValidation, "reply job has wrong payload type")
		}
		return o.RunReply(ctx, payload)
	default:
		return errors.New(errors.ErrCodeValidation, "unknown review queue kind: "+job.Kind)
	}
}

// HandleIndexQueue is the index-queue dispatcher handler.
func (o *Orchestrator) HandleIndexQueue(ctx context.Context, job *queue.Job) error {
	payload, ok := job.Payload.(*IndexJob)
	if !ok {
		return errors.New(errors.ErrCodeValidation, "index job has wrong payload type")
	}
	return o.RunIndex(ctx, payload)
}

// HandleAnalyticsQueue is the analytics-queue dispatcher handler.
func (o *Orchestrator) HandleAnalyticsQueue(ctx context.Context, job *queue.Job) error {
	payload, ok := job.Payload.(*AnalyticsJob)
	if !ok {
		return errors.New(errors.ErrCodeValidation, "analytics job has wrong payload type")
	}
	return o.RunAnalytics(ctx, payload)
}

// RunReply posts the prepared reply, tagged so webhook handling skips it.
func (o *Orchestrator) RunReply(ctx context.Context, job *ReplyJob) error {
	repo, err := o.store.GetRepo(job.RepoID)
	if err != nil {
		return err
	}
	client, err := o.forges(job.Provider)
	if err != nil {
		return err
	}
	body := job.Body + "\n\n" + fmt.Sprintf(mentionMarker, job.CommentID)
	return client.ReplyToComment(ctx, repo.Owner, repo.Name, job.Number, job.CommentID, body)
}

// RunIndex refreshes the repository index at the given head.
func (o *Orchestrator) RunIndex(ctx context.Context, job *IndexJob) error {
	if o.indexer == nil {
		return nil
	}
	repo, err := o.store.GetRepo(job.RepoID)
	if err != nil {
		return err
	}
	client, err := o.forges(job.Provider)
	if err != nil {
		return err
	}
	token, err := client.Token(ctx)
	if err != nil {
		return err
	}
	dir, err := o.worktrees.EnsureCheckout(ctx, worktree.Checkout{
		Owner:    repo.Owner,
		Repo:     repo.Name,
		HeadSHA:  job.HeadSHA,
		CloneURL: o.cloneURL(job.Provider, repo.Owner, repo.Name),
		Token:    token,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := o.worktrees.Remove(context.Background(), repo.Owner, repo.Name, dir); err != nil {
			logger.Warn("Failed to remove index worktree", zap.String("path", dir), zap.Error(err))
		}
	}()
	return o.indexer.Refresh(ctx, repo.ID, dir)
}

// RunAnalytics aggregates one completed run into its RunStat row.
func (o *Orchestrator) RunAnalytics(ctx context.Context, job *AnalyticsJob) error {
	run, err := o.store.GetRun(job.RunID)
	if err != nil {
		return err
	}
	pr, err := o.store.GetPullRequest(run.PullRequestID)
	if err != nil {
		return err
	}
	findings, err := o.store.FindingsForPR(pr.ID)
	if err != nil {
		return err
	}

	stat := &model.RunStat{
		ReviewRunID: run.ID,
		RepoID:      pr.RepoID,
		BySeverity:  model.JSONMap{},
		ByCategory:  model.JSONMap{},
	}
	severity := map[string]int{}
	category := map[string]int{}
	for _, f := range findings {
		switch {
		case f.RunID == run.ID:
			stat.NewFindings++
		case f.LastSeenRunID == run.ID && f.Status == model.FindingStatusFixed:
			stat.FixedFindings++
		}
		if f.Status == model.FindingStatusOpen {
			stat.OpenFindings++
			severity[f.Severity]++
			category[f.Category]++
		}
	}
	for _, s := range []string{schema.SeverityBlocking, schema.SeverityImportant, schema.SeverityNit} {
		if severity[s] > 0 {
			stat.BySeverity[s] = severity[s]
		}
	}
	for c, n := range category {
		stat.ByCategory[c] = n
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		stat.DurationMillis = run.CompletedAt.Sub(*run.StartedAt).Milliseconds()
	}
	return o.store.SaveRunStat(stat)
}
