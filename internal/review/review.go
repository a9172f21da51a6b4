// Package review runs the review pipeline for one pull request head: it
// checks out the revision, assembles the stage bundle, drives the external
// LLM stages, refines and reconciles the findings, and posts the results
// back to the forge idempotently.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/contextpack"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/reconcile"
	"github.com/grepiku/grepiku/internal/review/stage"
	"github.com/grepiku/grepiku/internal/schema"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/internal/worktree"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/idgen"
	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

// Run triggers.
const (
	TriggerWebhook = "webhook"
	TriggerManual  = "manual"
	TriggerComment = "comment"
)

// Job is the payload of one review-queue job.
type Job struct {
	Provider      string   `json:"provider"`
	RepoID        uint     `json:"repo_id"`
	PullRequestID uint     `json:"pull_request_id"`
	Number        int      `json:"number"`
	HeadSHA       string   `json:"head_sha"`
	Trigger       string   `json:"trigger"`
	Force         bool     `json:"force"`
	RulesOverride []string `json:"rules_override,omitempty"`
}

// IndexJob is the payload of one index-queue job.
type IndexJob struct {
	Provider string `json:"provider"`
	RepoID   uint   `json:"repo_id"`
	HeadSHA  string `json:"head_sha"`
}

// AnalyticsJob is the payload of one analytics-queue job.
type AnalyticsJob struct {
	RunID string `json:"run_id"`
}

// ForgeResolver returns the client for a provider type.
type ForgeResolver func(provider string) (forge.Client, error)

// Enqueuer is the slice of the queue manager the orchestrator needs.
type Enqueuer interface {
	Enqueue(queueName string, job *queue.Job) error
}

// Indexer abstracts the repository indexing pass triggered after runs.
type Indexer interface {
	Refresh(ctx context.Context, repoID uint, checkoutDir string) error
}

// Orchestrator owns the review pipeline.
type Orchestrator struct {
	cfg        *config.Config
	store      *store.Store
	forges     ForgeResolver
	worktrees  *worktree.Manager
	runner     stage.Runner
	packs      *contextpack.Builder
	reconciler *reconcile.Reconciler
	jobs       Enqueuer
	indexer    Indexer
}

// New builds the orchestrator.
func New(
	cfg *config.Config,
	st *store.Store,
	forges ForgeResolver,
	worktrees *worktree.Manager,
	runner stage.Runner,
	packs *contextpack.Builder,
	jobs Enqueuer,
	indexer Indexer,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      st,
		forges:     forges,
		worktrees:  worktrees,
		runner:     runner,
		packs:      packs,
		reconciler: reconcile.New(st),
		jobs:       jobs,
		indexer:    indexer,
	}
}

// runState carries everything one pipeline execution accumulates.
type runState struct {
	job    *Job
	repo   *model.Repo
	pr     *model.PullRequest
	remote *forge.PullRequest
	client forge.Client
	run    *model.ReviewRun

	checkoutDir string
	resolved    config.ResolvedConfig
	warnings    []string

	checkID        int64
	checkCreated   bool
	incremental    bool
	baseForDiff    string
	diff           *diffindex.Index
	changed        []forge.ChangedFile
	bundle         *stage.Bundle
	pack           *contextpack.ContextPack
	checks         *schema.ChecksOutput
	summary        *schema.Summary
	reconciled     *reconcile.Result
	summaryExtras  []schema.Comment
	feedback       feedbackHints
	startedAt      time.Time
}

// Run executes one review job end to end. Admission (debounce, trigger
// predicates) already happened in the scheduler; Run only re-checks for a
// newer completed run before committing work.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	repo, err := o.store.GetRepo(job.RepoID)
	if err != nil {
		return err
	}
	pr, err := o.store.GetPullRequest(job.PullRequestID)
	if err != nil {
		return err
	}
	client, err := o.forges(job.Provider)
	if err != nil {
		return err
	}

	remote, err := client.FetchPullRequest(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		return err
	}
	pr, err = o.refreshPullRequest(repo, pr, remote)
	if err != nil {
		return err
	}

	headSHA := job.HeadSHA
	if headSHA == "" {
		headSHA = remote.HeadSHA
	}
	if headSHA != remote.HeadSHA && !job.Force {
		logger.Info("Skipping review for stale head",
			zap.String("repo", repo.FullName),
			zap.Int("number", pr.Number),
			zap.String("head_sha", headSHA),
			zap.String("current_head", remote.HeadSHA),
		)
		return nil
	}
	if latest, err := o.store.LatestCompletedRun(pr.ID); err != nil {
		return err
	} else if latest != nil && latest.HeadSHA == headSHA && !job.Force {
		logger.Info("Head already reviewed, skipping",
			zap.String("repo", repo.FullName),
			zap.Int("number", pr.Number),
			zap.String("head_sha", headSHA),
		)
		return nil
	}

	now := time.Now()
	run := &model.ReviewRun{
		ID:            idgen.NewRunID(),
		PullRequestID: pr.ID,
		HeadSHA:       headSHA,
		Status:        model.RunStatusRunning,
		Trigger:       job.Trigger,
		StartedAt:     &now,
	}
	if err := o.store.CreateRun(run); err != nil {
		return err
	}

	st := &runState{
		job:       job,
		repo:      repo,
		pr:        pr,
		remote:    remote,
		client:    client,
		run:       run,
		startedAt: now,
	}

	if err := o.execute(ctx, st); err != nil {
		o.failRun(ctx, st, err)
		telemetry.ReviewRunDuration.WithLabelValues("failed").Observe(time.Since(now).Seconds())
		return err
	}
	telemetry.ReviewRunDuration.WithLabelValues("completed").Observe(time.Since(now).Seconds())
	return nil
}

// refreshPullRequest folds the forge's current view into the stored row.
func (o *Orchestrator) refreshPullRequest(repo *model.Repo, pr *model.PullRequest, remote *forge.PullRequest) (*model.PullRequest, error) {
	author, err := o.store.UpsertUser(repo.ProviderID, remote.Author, remote.Author)
	if err != nil {
		return nil, err
	}
	return o.store.UpsertPullRequest(&model.PullRequest{
		RepoID:   repo.ID,
		Number:   remote.Number,
		Title:    remote.Title,
		Body:     remote.Body,
		State:    remote.State,
		BaseRef:  remote.BaseBranch,
		HeadRef:  remote.HeadBranch,
		BaseSHA:  remote.BaseSHA,
		HeadSHA:  remote.HeadSHA,
		Draft:    remote.Draft,
		AuthorID: author.ID,
	})
}

// failRun marks the run failed and closes the status check. The in-progress
// summary comment is intentionally left; the next successful run overwrites
// it.
func (o *Orchestrator) failRun(ctx context.Context, st *runState, cause error) {
	logger.Error("Review run failed",
		zap.String("run_id", st.run.ID),
		zap.String("repo", st.repo.FullName),
		zap.Int("number", st.pr.Number),
		zap.Error(cause),
	)
	if err := o.store.CompleteRun(st.run, model.RunStatusFailed, cause.Error()); err != nil {
		logger.Error("Failed to persist failed run", zap.String("run_id", st.run.ID), zap.Error(err))
	}
	if st.checkCreated {
		summary := fmt.Sprintf("Review failed: %v", cause)
		if err := st.client.UpdateStatusCheck(ctx, st.repo.Owner, st.repo.Name, st.checkID,
			st.run.HeadSHA, st.resolved.StatusChecks.Name, forge.ConclusionFailure, summary); err != nil {
			logger.Warn("Failed to close status check", zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}
}

// cloneURL builds the fetch URL for a repository from the provider config.
func (o *Orchestrator) cloneURL(providerType, owner, name string) string {
	base := ""
	for _, p := range o.cfg.Providers {
		if p.Type == providerType {
			base = p.URL
			break
		}
	}
	if base == "" {
		switch providerType {
		case "github":
			base = "https://github.com"
		case "gitlab":
			base = "https://gitlab.com"
		}
	}
	return fmt.Sprintf("%s/%s/%s.git", base, owner, name)
}

// overlayFromJSON converts stored installation defaults into a config layer.
func overlayFromJSON(m model.JSONMap) (*config.Overlay, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "marshal installation defaults", err)
	}
	var overlay config.Overlay
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "parse installation defaults", err)
	}
	return &overlay, nil
}
