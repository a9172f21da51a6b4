package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/contextpack"
	"github.com/grepiku/grepiku/internal/diffindex"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/prompt"
	"github.com/grepiku/grepiku/internal/queue"
	"github.com/grepiku/grepiku/internal/reconcile"
	"github.com/grepiku/grepiku/internal/review/stage"
	"github.com/grepiku/grepiku/internal/schema"
	"github.com/grepiku/grepiku/internal/worktree"
	"github.com/grepiku/grepiku/pkg/logger"
	"github.com/grepiku/grepiku/pkg/telemetry"
)

// execute walks the pipeline. Any returned error fails the run.
func (o *Orchestrator) execute(ctx context.Context, st *runState) error {
	if err := o.checkout(ctx, st); err != nil {
		return err
	}
	defer func() {
		if st.checkoutDir != "" {
			if err := o.worktrees.Remove(context.Background(), st.repo.Owner, st.repo.Name, st.checkoutDir); err != nil {
				logger.Warn("Failed to remove worktree", zap.String("path", st.checkoutDir), zap.Error(err))
			}
		}
	}()

	if err := o.resolveConfig(st); err != nil {
		return err
	}
	o.openStatus(ctx, st)

	if err := o.loadDiff(ctx, st); err != nil {
		return err
	}
	if err := o.buildPack(ctx, st); err != nil {
		return err
	}
	if err := o.writeBundle(st); err != nil {
		return err
	}
	if err := o.loadFeedbackHints(st); err != nil {
		return err
	}

	// The verifier overlaps with the reviewer and editor; it is joined
	// before the summary comment is rendered.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.checks = o.runVerifier(gctx, st)
		return nil
	})

	draft, err := o.runReviewer(ctx, st)
	if err != nil {
		return err
	}
	comments, summary, err := o.runEditor(ctx, st, draft)
	if err != nil {
		return err
	}
	st.summary = summary

	comments = o.runCoverage(ctx, st, comments)

	refined := refine(st.diff, comments, st.resolved, st.feedback.muted)
	st.warnings = append(st.warnings, refined.diagnostics...)
	st.summaryExtras = refined.summaryComments

	enrichSummary(st, refined.inline)

	if err := g.Wait(); err != nil {
		return err
	}

	if err := o.reconcileFindings(st, refined.inline); err != nil {
		return err
	}
	if err := o.post(ctx, st); err != nil {
		return err
	}
	return o.finalize(ctx, st, refined.inline)
}

func (o *Orchestrator) checkout(ctx context.Context, st *runState) error {
	token, err := st.client.Token(ctx)
	if err != nil {
		return err
	}
	dir, err := o.worktrees.EnsureCheckout(ctx, worktree.Checkout{
		Owner:    st.repo.Owner,
		Repo:     st.repo.Name,
		HeadSHA:  st.run.HeadSHA,
		CloneURL: o.cloneURL(st.job.Provider, st.repo.Owner, st.repo.Name),
		Token:    token,
	})
	if err != nil {
		return err
	}
	st.checkoutDir = dir
	return nil
}

// resolveConfig layers service defaults, installation defaults, the repo's
// config file, and the job's rules override, lowest priority first.
func (o *Orchestrator) resolveConfig(st *runState) error {
	repoOverlay, warnings, err := config.LoadRepoOverlay(st.checkoutDir)
	if err != nil {
		return err
	}
	st.warnings = append(st.warnings, warnings...)

	var instOverlay *config.Overlay
	if inst, err := o.store.InstallationForRepo(st.repo.ID); err != nil {
		return err
	} else if inst != nil {
		instOverlay, err = overlayFromJSON(inst.DefaultsJSON)
		if err != nil {
			st.warnings = append(st.warnings, fmt.Sprintf("ignoring installation defaults: %v", err))
		}
	}

	var runOverlay *config.Overlay
	if len(st.job.RulesOverride) > 0 {
		runOverlay = &config.Overlay{Rules: st.job.RulesOverride}
	}

	st.resolved = config.Resolve(&o.cfg.Review.Overlay, instOverlay, repoOverlay, runOverlay)
	return nil
}

// openStatus creates the in-progress check and the placeholder summary
// comment. Permission failures become warnings, not run failures.
func (o *Orchestrator) openStatus(ctx context.Context, st *runState) {
	if st.resolved.StatusChecks.Enabled {
		checkID, err := st.client.CreateStatusCheck(ctx, st.repo.Owner, st.repo.Name,
			st.run.HeadSHA, st.resolved.StatusChecks.Name)
		switch {
		case err == nil:
			st.checkID = checkID
			st.checkCreated = true
		case forge.IsPermission(err):
			st.warnings = append(st.warnings, fmt.Sprintf("cannot create status check: %v", err))
		default:
			logger.Warn("Status check creation failed",
				zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}
	if destinationIncludesComment(st.resolved.Output.Destination) {
		body := fmt.Sprintf(":hourglass_flowing_sand: Review in progress for `%s`.\n\n%s",
			shortSHA(st.run.HeadSHA), summaryCommentMarker)
		if err := o.upsertSummaryComment(ctx, st, body); err != nil {
			logger.Warn("Failed to post placeholder comment",
				zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}
}

// loadDiff prefers the local git diff, falling back to the forge patch, and
// back to local again when the forge reports the diff too large.
func (o *Orchestrator) loadDiff(ctx context.Context, st *runState) error {
	prev, err := o.store.LatestCompletedRun(st.pr.ID)
	if err != nil {
		return err
	}
	st.incremental = prev != nil && prev.HeadSHA != st.run.HeadSHA &&
		!st.job.Force && st.job.Trigger != TriggerManual
	st.baseForDiff = st.pr.BaseSHA
	if st.incremental {
		st.baseForDiff = prev.HeadSHA
	}

	patch, localErr := o.worktrees.Diff(ctx, st.repo.Owner, st.repo.Name, st.baseForDiff, st.run.HeadSHA)
	if localErr != nil {
		logger.Warn("Local diff failed, falling back to forge",
			zap.String("run_id", st.run.ID), zap.Error(localErr))
		forgePatch, forgeErr := st.client.FetchDiffPatch(ctx, st.repo.Owner, st.repo.Name, st.pr.Number)
		switch {
		case forgeErr == nil:
			patch = forgePatch
		case forge.IsTooLarge(forgeErr):
			// The forge refuses large diffs; the local repo has no such cap.
			patch, localErr = o.worktrees.Diff(ctx, st.repo.Owner, st.repo.Name, st.baseForDiff, st.run.HeadSHA)
			if localErr != nil {
				return localErr
			}
		default:
			return forgeErr
		}
	}
	st.diff = diffindex.Parse(patch)

	changed, err := st.client.ListChangedFiles(ctx, st.repo.Owner, st.repo.Name, st.pr.Number)
	if err != nil {
		logger.Warn("Changed-file listing failed, deriving from diff",
			zap.String("run_id", st.run.ID), zap.Error(err))
		for _, s := range st.diff.Stats() {
			changed = append(changed, forge.ChangedFile{Path: s.Path, Additions: s.Additions, Deletions: s.Deletions})
		}
	}
	st.changed = changed
	return nil
}

func (o *Orchestrator) buildPack(ctx context.Context, st *runState) error {
	pack, err := o.packs.Build(ctx, contextpack.Input{
		RepoID: st.repo.ID,
		Title:  st.pr.Title,
		Body:   st.pr.Body,
		Diff:   st.diff,
		Cfg:    st.resolved,
	})
	if err != nil {
		return err
	}
	st.pack = pack
	raw, err := json.Marshal(pack)
	if err != nil {
		return err
	}
	st.run.ContextPackJSON = string(raw)
	return o.store.SaveRun(st.run)
}

func (o *Orchestrator) writeBundle(st *runState) error {
	bundle, err := stage.NewBundle(o.cfg.Workspace.BundlesDir, st.run.ID)
	if err != nil {
		return err
	}
	st.bundle = bundle

	prDoc := fmt.Sprintf("# %s\n\n%s\n\n---\n- Repository: %s\n- Pull request: #%d by @%s\n- Base: `%s` (%s)\n- Head: `%s` (%s)\n",
		st.pr.Title, st.pr.Body, st.repo.FullName, st.pr.Number, st.remote.Author,
		st.pr.BaseRef, shortSHA(st.baseForDiff), st.pr.HeadRef, shortSHA(st.run.HeadSHA))

	related := make([]string, 0, len(st.pack.RelatedFiles))
	for _, rf := range st.pack.RelatedFiles {
		related = append(related, rf.Path)
	}

	steps := []struct {
		name string
		err  error
	}{
		{stage.InputPR, bundle.WriteInput(stage.InputPR, []byte(prDoc))},
		{stage.InputDiff, bundle.WriteInput(stage.InputDiff, []byte(rebuildPatch(st.diff)))},
		{stage.InputChangedFiles, bundle.WriteJSONInput(stage.InputChangedFiles, st.changed)},
		{stage.InputBotConfig, bundle.WriteJSONInput(stage.InputBotConfig, st.resolved)},
		{stage.InputRules, bundle.WriteJSONInput(stage.InputRules, map[string]any{"rules": st.resolved.Rules})},
		{stage.InputScopes, bundle.WriteJSONInput(stage.InputScopes, map[string]any{
			"changed": st.diff.Files(),
			"related": related,
		})},
		{stage.InputContextPack, bundle.WriteJSONInput(stage.InputContextPack, st.pack)},
		{stage.InputConfigWarnings, bundle.WriteJSONInput(stage.InputConfigWarnings, map[string]any{"warnings": st.warnings})},
	}
	for _, s := range steps {
		if s.err != nil {
			return s.err
		}
	}
	return nil
}

// runStage invokes one stage with telemetry.
func (o *Orchestrator) runStage(ctx context.Context, st *runState, name stage.Name, promptText string) error {
	start := time.Now()
	err := o.runner.Run(ctx, stage.Request{
		Stage:     name,
		BundleDir: st.bundle.InputDir(),
		OutDir:    st.bundle.OutDir(),
		Prompt:    promptText,
		Env:       []string{"HOME=" + st.bundle.AgentHome(), "GREPIKU_CHECKOUT=" + st.checkoutDir},
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	telemetry.StageDuration.WithLabelValues(string(name), status).Observe(time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) runReviewer(ctx context.Context, st *runState) (*schema.ReviewOutput, error) {
	promptText := prompt.Reviewer(prompt.ReviewerInput{
		Rules:              st.resolved.Rules,
		IncrementalBase:    incrementalBase(st),
		AcceptedCategories: st.feedback.accepted,
		RejectedCategories: st.feedback.rejected,
		MaxInlineComments:  st.resolved.Limits.MaxInlineComments,
	})
	if err := o.runStage(ctx, st, stage.Reviewer, promptText); err != nil {
		return nil, err
	}
	raw, err := st.bundle.ReadOutputOrLastMessage(stage.OutputDraft, stage.Reviewer)
	if err != nil {
		return nil, err
	}
	draft, err := schema.ParseReview(raw)
	if err != nil {
		return nil, err
	}
	st.run.DraftJSON = string(raw)
	return draft, nil
}

// runEditor applies the editor's verdicts to the draft. A revised comment
// that fails validation falls back to the original draft comment.
func (o *Orchestrator) runEditor(ctx context.Context, st *runState, draft *schema.ReviewOutput) ([]schema.Comment, *schema.Summary, error) {
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return nil, nil, err
	}
	if err := o.runStage(ctx, st, stage.Editor, prompt.Editor(string(draftJSON), string(st.resolved.Strictness))); err != nil {
		return nil, nil, err
	}

	rawVerdicts, err := st.bundle.ReadOutputOrLastMessage(stage.OutputVerdicts, stage.Editor)
	if err != nil {
		return nil, nil, err
	}
	verdicts, err := schema.ParseVerdicts(rawVerdicts)
	if err != nil {
		return nil, nil, err
	}
	st.run.VerdictsJSON = string(rawVerdicts)

	comments := applyVerdicts(draft.Comments, verdicts.Verdicts)

	summary := draft.Summary
	if rawFinal, err := st.bundle.ReadOutput(stage.OutputFinal); err == nil {
		if final, perr := schema.ParseReview(rawFinal); perr == nil {
			st.run.FinalJSON = string(rawFinal)
			if final.Summary != nil {
				summary = final.Summary
			}
		} else {
			st.warnings = append(st.warnings, fmt.Sprintf("final review unparseable, using draft: %v", perr))
		}
	}
	return comments, summary, nil
}

// applyVerdicts folds the editor's rulings into the draft comment set.
func applyVerdicts(drafts []schema.Comment, verdicts []schema.Verdict) []schema.Comment {
	byID := make(map[string]schema.Verdict, len(verdicts))
	for _, v := range verdicts {
		byID[v.CommentID] = v
	}
	out := make([]schema.Comment, 0, len(drafts))
	for _, c := range drafts {
		v, ok := byID[c.CommentID]
		if !ok {
			out = append(out, c)
			continue
		}
		switch v.Verdict {
		case schema.VerdictDrop:
		case schema.VerdictRevise:
			if v.RevisedComment != nil && schema.ValidateComment(v.RevisedComment) == nil {
				out = append(out, *v.RevisedComment)
			} else {
				out = append(out, c)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// runCoverage optionally supplements findings for changed files the edited
// review left untouched. Coverage failures never fail the run.
func (o *Orchestrator) runCoverage(ctx context.Context, st *runState, comments []schema.Comment) []schema.Comment {
	if !o.cfg.Stages.CoverageEnabled || st.resolved.Output.SummaryOnly || !inlineAllowed(st.resolved) {
		return comments
	}
	if len(comments) >= st.resolved.Limits.MaxInlineComments {
		return comments
	}
	touched := make(map[string]bool, len(comments))
	for _, c := range comments {
		touched[c.Path] = true
	}
	var targets []string
	for _, p := range st.diff.Files() {
		if !touched[p] {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return comments
	}

	if err := o.runStage(ctx, st, stage.Coverage, prompt.Coverage(targets)); err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("coverage stage failed: %v", err))
		return comments
	}
	raw, err := st.bundle.ReadOutput("coverage_review.json")
	if err != nil {
		st.warnings = append(st.warnings, "coverage stage produced no output")
		return comments
	}
	supplemental, err := schema.ParseReview(raw)
	if err != nil {
		st.warnings = append(st.warnings, fmt.Sprintf("coverage output unparseable: %v", err))
		return comments
	}
	return mergeSupplemental(comments, supplemental.Comments)
}

// mergeSupplemental appends coverage findings, dropping duplicates of
// existing (path, category, title) triples.
func mergeSupplemental(comments, supplemental []schema.Comment) []schema.Comment {
	seen := make(map[string]bool, len(comments))
	key := func(c schema.Comment) string {
		return c.Path + "\x00" + c.Category + "\x00" + normalizeTitle(c.Title)
	}
	for _, c := range comments {
		seen[key(c)] = true
	}
	for _, c := range supplemental {
		if seen[key(c)] {
			continue
		}
		seen[key(c)] = true
		comments = append(comments, c)
	}
	return comments
}

// runVerifier is best-effort: a missing or broken checks payload degrades
// the summary, never the run.
func (o *Orchestrator) runVerifier(ctx context.Context, st *runState) *schema.ChecksOutput {
	if err := o.runStage(ctx, st, stage.Verifier, prompt.Verifier(st.run.HeadSHA)); err != nil {
		logger.Warn("Verifier stage failed", zap.String("run_id", st.run.ID), zap.Error(err))
		return nil
	}
	raw, err := st.bundle.ReadOutputOrLastMessage(stage.OutputChecks, stage.Verifier)
	if err != nil {
		logger.Warn("Verifier produced no checks", zap.String("run_id", st.run.ID), zap.Error(err))
		return nil
	}
	checks, err := schema.ParseChecks(raw)
	if err != nil {
		logger.Warn("Checks payload unparseable", zap.String("run_id", st.run.ID), zap.Error(err))
		return nil
	}
	st.run.ChecksJSON = string(raw)
	return checks
}

func (o *Orchestrator) reconcileFindings(st *runState, inline []schema.Comment) error {
	drafts := make([]reconcile.Draft, 0, len(inline))
	for _, c := range inline {
		drafts = append(drafts, reconcile.Draft{
			Path:           c.Path,
			Line:           c.Line,
			Side:           diffindex.Side(c.Side),
			Severity:       c.Severity,
			Category:       c.Category,
			Title:          c.Title,
			Body:           c.Body,
			Evidence:       c.Evidence,
			SuggestedPatch: c.SuggestedPatch,
			Confidence:     c.Confidence,
			RuleID:         c.RuleID,
			RuleReason:     c.RuleReason,
			CommentID:      c.CommentID,
			CommentKey:     c.CommentKey,
		})
	}
	res, err := o.reconciler.Run(st.run, st.pr.ID, st.diff, drafts, st.incremental)
	if err != nil {
		return err
	}
	st.reconciled = res
	telemetry.FindingsTotal.WithLabelValues("created").Add(float64(res.Created))
	telemetry.FindingsTotal.WithLabelValues("updated").Add(float64(res.Updated))
	telemetry.FindingsTotal.WithLabelValues("fixed").Add(float64(res.Fixed))
	telemetry.FindingsTotal.WithLabelValues("obsolete").Add(float64(res.Obsolete))
	return nil
}

// finalize persists stage artifacts, closes the status check, and enqueues
// the follow-up jobs.
func (o *Orchestrator) finalize(ctx context.Context, st *runState, inline []schema.Comment) error {
	if err := o.store.CompleteRun(st.run, model.RunStatusCompleted, ""); err != nil {
		return err
	}

	if st.checkCreated {
		conclusion := forge.ConclusionSuccess
		summaryText := "No blocking findings."
		if blocking := countSeverity(inline, schema.SeverityBlocking); blocking > 0 {
			summaryText = fmt.Sprintf("%d blocking finding(s).", blocking)
			if st.resolved.StatusChecks.Required {
				conclusion = forge.ConclusionFailure
			} else {
				conclusion = forge.ConclusionNeutral
			}
		}
		if err := st.client.UpdateStatusCheck(ctx, st.repo.Owner, st.repo.Name, st.checkID,
			st.run.HeadSHA, st.resolved.StatusChecks.Name, conclusion, summaryText); err != nil {
			logger.Warn("Failed to close status check", zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}

	if o.jobs != nil {
		indexJob := queue.NewJob(queue.QueueIndex, queue.KindIndexRefresh, st.repo.FullName, &IndexJob{
			Provider: st.job.Provider,
			RepoID:   st.repo.ID,
			HeadSHA:  st.run.HeadSHA,
		})
		if err := o.jobs.Enqueue(queue.QueueIndex, indexJob); err != nil {
			logger.Warn("Failed to enqueue index job", zap.String("run_id", st.run.ID), zap.Error(err))
		}
		analyticsJob := queue.NewJob(queue.QueueAnalytics, queue.KindAnalytics, "", &AnalyticsJob{RunID: st.run.ID})
		if err := o.jobs.Enqueue(queue.QueueAnalytics, analyticsJob); err != nil {
			logger.Warn("Failed to enqueue analytics job", zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}

	logger.Info("Review run completed",
		zap.String("run_id", st.run.ID),
		zap.String("repo", st.repo.FullName),
		zap.Int("number", st.pr.Number),
		zap.Int("inline", len(inline)),
		zap.Int("created", st.reconciled.Created),
		zap.Int("fixed", st.reconciled.Fixed),
		zap.Duration("duration", time.Since(st.startedAt)),
	)
	return nil
}

func incrementalBase(st *runState) string {
	if st.incremental {
		return shortSHA(st.baseForDiff)
	}
	return ""
}

func destinationIncludesComment(d config.Destination) bool {
	return d == config.DestinationComment || d == config.DestinationBoth
}

func destinationIncludesBody(d config.Destination) bool {
	return d == config.DestinationPRBody || d == config.DestinationBoth
}

func inlineAllowed(cfg config.ResolvedConfig) bool {
	for _, t := range cfg.CommentTypes {
		if t == schema.CommentTypeInline {
			return true
		}
	}
	return false
}

func countSeverity(comments []schema.Comment, severity string) int {
	n := 0
	for _, c := range comments {
		if c.Severity == severity {
			n++
		}
	}
	return n
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// rebuildPatch renders the parsed diff back into unified form for the
// bundle, keeping the stage input identical to what the pipeline indexed.
func rebuildPatch(idx *diffindex.Index) string {
	var b strings.Builder
	for _, path := range idx.Files() {
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n", path, path, path, path)
		for _, h := range idx.Hunks(path) {
			fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
			for _, line := range h.Lines {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}
