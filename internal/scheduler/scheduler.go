// Package scheduler turns normalized webhook events into queue jobs. It owns
// admission: trigger predicates, debounce, feedback capture, and comment
// commands all happen here so the review queue only ever sees work that
// should run.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/consts"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/review"
	"github.com/grepiku/grepiku/internal/store"
	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

// Enqueuer is the queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(queueName string, job *queue.Job) error
	Has(queueName, jobID string) bool
}

// Scheduler admits webhook events into the job queues.
type Scheduler struct {
	cfg    *config.Config
	store  *store.Store
	forges review.ForgeResolver
	jobs   Enqueuer
}

// New builds a Scheduler.
func New(cfg *config.Config, st *store.Store, forges review.ForgeResolver, jobs Enqueuer) *Scheduler {
	return &Scheduler{cfg: cfg, store: st, forges: forges, jobs: jobs}
}

// HandleEvent processes one normalized webhook event. Errors are returned to
// the receiver for logging; the forge has already been answered by then.
func (s *Scheduler) HandleEvent(ctx context.Context, event *forge.Event) error {
	outcome := "handled"
	err := s.handle(ctx, event)
	if err != nil {
		outcome = "error"
	}
	telemetry.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
	return err
}

func (s *Scheduler) handle(ctx context.Context, event *forge.Event) error {
	repo, err := s.upsertEventScope(event)
	if err != nil {
		return err
	}

	switch event.Type {
	case forge.EventPullRequest:
		return s.handlePullRequest(ctx, event, repo)
	case forge.EventComment:
		return s.handleComment(ctx, event, repo)
	case forge.EventReaction:
		return s.handleReaction(event, repo)
	default:
		logger.Debug("Ignoring webhook event", zap.String("type", event.Type))
		return nil
	}
}

// upsertEventScope materializes the provider, repo, and installation rows
// the event refers to.
func (s *Scheduler) upsertEventScope(event *forge.Event) (*model.Repo, error) {
	baseURL := ""
	for _, p := range s.cfg.Providers {
		if p.Type == event.Provider {
			baseURL = p.URL
			break
		}
	}
	provider, err := s.store.UpsertProvider(event.Provider, baseURL)
	if err != nil {
		return nil, err
	}

	fullName := event.Owner + "/" + event.Repo
	repo, err := s.store.UpsertRepo(provider.ID, fullName, event.Owner, event.Repo, fullName, "")
	if err != nil {
		return nil, err
	}

	if event.InstallationID != 0 {
		inst, err := s.store.UpsertInstallation(provider.ID, strconv.FormatInt(event.InstallationID, 10))
		if err != nil {
			return nil, err
		}
		if err := s.store.LinkRepoInstallation(repo.ID, inst.ID); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (s *Scheduler) handlePullRequest(ctx context.Context, event *forge.Event, repo *model.Repo) error {
	remote := event.PullRequest
	if remote == nil {
		return nil
	}
	pr, err := s.upsertPullRequest(repo, remote)
	if err != nil {
		return err
	}

	if remote.State != "open" || event.Action == "closed" {
		logger.Debug("PR not open, nothing to schedule",
			zap.String("repo", repo.FullName), zap.Int("number", remote.Number))
		return nil
	}

	resolved := config.Resolve(&s.cfg.Review.Overlay)
	if ok, reason := resolved.Triggers.ShouldReview(remote.BaseBranch, remote.Author, remote.Title, remote.Labels, remote.Draft); !ok {
		logger.Info("Skipping review",
			zap.String("repo", repo.FullName),
			zap.Int("number", remote.Number),
			zap.String("reason", reason),
		)
		return nil
	}

	if s.debounced(pr, remote.HeadSHA) {
		logger.Debug("Debounced duplicate head",
			zap.String("repo", repo.FullName),
			zap.Int("number", remote.Number),
			zap.String("head_sha", shortSHA(remote.HeadSHA)),
		)
		return nil
	}

	if event.Action == "synchronize" && s.suggestionCommit(ctx, event, repo, remote.HeadSHA) {
		logger.Debug("Head is an applied suggestion, skipping re-review",
			zap.String("repo", repo.FullName), zap.Int("number", remote.Number))
		return nil
	}

	return s.enqueueReview(event.Provider, repo, pr, remote.HeadSHA, review.TriggerWebhook, false, nil)
}

// debounced reports whether the head already has a run that should suppress
// a new one: anything non-failed, or a failed run still inside the debounce
// window (so a crash loop does not hammer the LLM backend).
func (s *Scheduler) debounced(pr *model.PullRequest, headSHA string) bool {
	latest, err := s.store.LatestRun(pr.ID)
	if err != nil || latest == nil || latest.HeadSHA != headSHA {
		return false
	}
	if latest.Status != model.RunStatusFailed {
		return true
	}
	window := time.Duration(s.cfg.Workers.DebounceSeconds) * time.Second
	return time.Since(latest.CreatedAt) < window
}

// suggestionCommit reports whether the pushed head is a forge-applied
// suggestion commit, titled "Apply suggestion(s) ...". Only the first line of
// the message counts; a body that merely mentions the phrase is a normal
// commit. Best-effort: lookup failures never block a review.
func (s *Scheduler) suggestionCommit(ctx context.Context, event *forge.Event, repo *model.Repo, headSHA string) bool {
	client, err := s.forges(event.Provider)
	if err != nil {
		return false
	}
	commit, err := client.FetchCommit(ctx, repo.Owner, repo.Name, headSHA)
	if err != nil || commit == nil {
		return false
	}
	title := strings.SplitN(strings.TrimSpace(commit.Message), "\n", 2)[0]
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(title)), "apply suggestion")
}

func (s *Scheduler) handleComment(ctx context.Context, event *forge.Event, repo *model.Repo) error {
	client, err := s.forges(event.Provider)
	if err != nil {
		return err
	}
	if forge.BotAuthored(event.Author, client.BotLogin()) {
		return nil
	}
	if strings.Contains(event.CommentBody, consts.MarkerSentinel) {
		// Our own artifacts quote these markers; never react to them.
		return nil
	}
	if event.PullRequest == nil {
		return nil
	}
	pr, err := s.store.GetPullRequestByNumber(repo.ID, event.PullRequest.Number)
	if err != nil {
		return err
	}

	finding := s.replyTarget(pr, event)
	if finding != nil {
		s.recordReplyFeedback(finding, event)
	}

	resolved := config.Resolve(&s.cfg.Review.Overlay)
	trigger := resolved.Triggers.MatchComment(event.CommentBody)
	if trigger == config.CommentTriggerNone && finding == nil {
		return nil
	}

	// Commands and thread replies to our findings both get an ack reaction
	// and a reply; a review command additionally forces a fresh run.
	s.acknowledge(ctx, client, repo, event)
	if err := s.enqueueReply(event.Provider, repo, pr, event, replyBody(trigger, finding)); err != nil {
		return err
	}
	if trigger == config.CommentTriggerReview {
		rules := commandRules(event.CommentBody)
		return s.enqueueReview(event.Provider, repo, pr, "", review.TriggerComment, true, rules)
	}
	return nil
}

// replyTarget resolves the finding a comment replies to, by the reply target
// first and the comment's own id second.
func (s *Scheduler) replyTarget(pr *model.PullRequest, event *forge.Event) *model.Finding {
	target := event.InReplyTo
	if target == 0 {
		target = event.CommentID
	}
	if target == 0 {
		return nil
	}
	finding, err := s.store.FindingByProviderComment(pr.ID, strconv.FormatInt(target, 10))
	if err != nil || finding == nil {
		return nil
	}
	return finding
}

// recordReplyFeedback stores a human reply on one of our inline threads as
// feedback against the finding's last run.
func (s *Scheduler) recordReplyFeedback(finding *model.Finding, event *forge.Event) {
	action := ""
	if resolutionReply(event.CommentBody) {
		action = "resolved"
	}
	fb := &model.Feedback{
		ReviewRunID: finding.LastSeenRunID,
		Type:        model.FeedbackTypeReply,
		Action:      action,
		CommentID:   finding.CommentID,
		Metadata:    model.JSONMap{"author": event.Author},
	}
	if err := s.store.AddFeedback(fb); err != nil {
		logger.Warn("Failed to record feedback", zap.Uint("pr_id", finding.PullRequestID), zap.Error(err))
	}
}

func (s *Scheduler) handleReaction(event *forge.Event, repo *model.Repo) error {
	if event.CommentID == 0 || event.PullRequest == nil {
		return nil
	}
	pr, err := s.store.GetPullRequestByNumber(repo.ID, event.PullRequest.Number)
	if err != nil {
		return err
	}
	finding, err := s.store.FindingByProviderComment(pr.ID, strconv.FormatInt(event.CommentID, 10))
	if err != nil || finding == nil {
		return err
	}
	return s.store.AddFeedback(&model.Feedback{
		ReviewRunID: finding.LastSeenRunID,
		Type:        model.FeedbackTypeReaction,
		Sentiment:   event.Reaction,
		CommentID:   finding.CommentID,
		Metadata:    model.JSONMap{"author": event.Author},
	})
}

// acknowledge reacts to the triggering comment so the requester sees the
// command landed. Best-effort on every forge.
func (s *Scheduler) acknowledge(ctx context.Context, client forge.Client, repo *model.Repo, event *forge.Event) {
	if event.CommentID == 0 {
		return
	}
	if err := client.AddReaction(ctx, repo.Owner, repo.Name, event.CommentID, event.PullRequest.Number, "eyes"); err != nil {
		logger.Debug("Reaction failed", zap.Int64("comment_id", event.CommentID), zap.Error(err))
	}
}

// enqueueReview submits a review job with a deterministic id so webhook
// redeliveries collapse onto the pending job.
func (s *Scheduler) enqueueReview(provider string, repo *model.Repo, pr *model.PullRequest, headSHA, trigger string, force bool, rules []string) error {
	payload := &review.Job{
		Provider:      provider,
		RepoID:        repo.ID,
		PullRequestID: pr.ID,
		Number:        pr.Number,
		HeadSHA:       headSHA,
		Trigger:       trigger,
		Force:         force,
		RulesOverride: rules,
	}
	job := queue.NewJob(queue.QueueReview, queue.KindReview, repo.FullName, payload)
	sha := headSHA
	if sha == "" {
		sha = pr.HeadSHA
	}
	job.ID = fmt.Sprintf("review-%d-%s-%s", pr.ID, shortSHA(sha), trigger)
	return s.jobs.Enqueue(queue.QueueReview, job)
}

// replyBody picks the acknowledgement text for the comment-reply job.
func replyBody(trigger config.CommentTrigger, finding *model.Finding) string {
	switch {
	case trigger == config.CommentTriggerReview:
		return "On it. Reviewing the latest head now."
	case finding != nil:
		return "Thanks, noted against this finding. Comment `/review` to re-check it against the latest head."
	default:
		return "Thanks for the ping. I review this pull request automatically on every push; " +
			"comment `/review` to force a fresh pass."
	}
}

func (s *Scheduler) enqueueReply(provider string, repo *model.Repo, pr *model.PullRequest, event *forge.Event, body string) error {
	payload := &review.ReplyJob{
		Provider:  provider,
		RepoID:    repo.ID,
		Number:    pr.Number,
		CommentID: event.CommentID,
		Body:      body,
	}
	job := queue.NewJob(queue.QueueReview, queue.KindCommentReply, repo.FullName, payload)
	job.ID = fmt.Sprintf("reply-%d-%d", pr.ID, event.CommentID)
	return s.jobs.Enqueue(queue.QueueReview, job)
}

func (s *Scheduler) upsertPullRequest(repo *model.Repo, remote *forge.PullRequest) (*model.PullRequest, error) {
	author, err := s.store.UpsertUser(repo.ProviderID, remote.Author, remote.Author)
	if err != nil {
		return nil, err
	}
	return s.store.UpsertPullRequest(&model.PullRequest{
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

// commandRules extracts inline instructions from a review command, e.g.
// "/review focus on error handling".
func commandRules(body string) []string {
	idx := strings.Index(strings.ToLower(body), "/review")
	if idx < 0 {
		return nil
	}
	rest := strings.TrimSpace(body[idx+len("/review"):])
	if line := strings.SplitN(rest, "\n", 2)[0]; strings.TrimSpace(line) != "" {
		return []string{strings.TrimSpace(line)}
	}
	return nil
}

// resolutionReply reports whether a reply claims the finding is addressed,
// guarding against simple negations.
func resolutionReply(body string) bool {
	lower := strings.ToLower(body)
	for _, neg := range []string{"not ", "n't ", "cannot", "won't", "wont "} {
		if strings.Contains(lower, neg) {
			return false
		}
	}
	for _, word := range []string{"fixed", "resolved", "done", "addressed"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
