package review

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/consts"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/model"
	"github.com/grepiku/grepiku/internal/schema"
	"github.com/grepiku/grepiku/pkg/logger"
)

// HTML markers keep posted artifacts findable and idempotent across runs.
const (
	summaryCommentMarker = consts.SummaryCommentMarker
	bodyStartMarker      = consts.SummaryBodyStart
	bodyEndMarker        = consts.SummaryBodyEnd
	inlineMarkerPrefix   = consts.InlineMarkerPrefix
)

// post publishes the reconciled findings and the summary to the forge.
// Every step is idempotent: inline comments are keyed by their marker,
// the summary comment is updated in place, and the PR body block is
// replaced between its markers.
func (o *Orchestrator) post(ctx context.Context, st *runState) error {
	if err := o.postInline(ctx, st); err != nil {
		return err
	}
	o.resolveSweptThreads(ctx, st)

	if destinationIncludesComment(st.resolved.Output.Destination) {
		if err := o.upsertSummaryComment(ctx, st, renderSummaryComment(st)); err != nil {
			return err
		}
	}
	if destinationIncludesBody(st.resolved.Output.Destination) && !st.incremental {
		if err := o.updatePRBody(ctx, st); err != nil {
			// Body write needs content permission some installs lack.
			st.warnings = append(st.warnings, fmt.Sprintf("cannot update PR body: %v", err))
			logger.Warn("PR body update failed", zap.String("run_id", st.run.ID), zap.Error(err))
		}
	}
	return nil
}

// postInline creates comments for newly-opened findings and resyncs drifted
// bodies of already-posted ones. A single failed comment degrades to a
// warning so the rest of the review still lands.
func (o *Orchestrator) postInline(ctx context.Context, st *runState) error {
	for i := range st.reconciled.Open {
		f := &st.reconciled.Open[i]
		if f.LastSeenRunID != st.run.ID {
			continue
		}
		body := renderInlineBody(f)

		if f.ProviderCommentID == "" {
			posted, err := st.client.CreateInlineComment(ctx, st.repo.Owner, st.repo.Name,
				st.pr.Number, st.run.HeadSHA, forge.InlineCommentRequest{
					Path: f.Path,
					Line: f.Line,
					Side: f.Side,
					Body: body,
				})
			if err != nil {
				st.warnings = append(st.warnings, fmt.Sprintf("failed to post inline comment at %s:%d: %v", f.Path, f.Line, err))
				logger.Warn("Inline comment failed",
					zap.String("run_id", st.run.ID),
					zap.String("path", f.Path),
					zap.Int("line", f.Line),
					zap.Error(err),
				)
				continue
			}
			f.ProviderCommentID = strconv.FormatInt(posted.ID, 10)
			if err := o.store.SaveFinding(f); err != nil {
				return err
			}
			if err := o.store.UpsertReviewComment(&model.ReviewComment{
				PullRequestID:     st.pr.ID,
				FindingID:         &f.ID,
				Kind:              model.CommentKindInline,
				ProviderCommentID: f.ProviderCommentID,
				Body:              body,
				URL:               posted.URL,
			}); err != nil {
				return err
			}
			continue
		}

		// Already posted: push the refreshed body so severity or wording
		// changes from this run are visible.
		commentID, err := strconv.ParseInt(f.ProviderCommentID, 10, 64)
		if err != nil {
			continue
		}
		if err := st.client.UpdateInlineComment(ctx, st.repo.Owner, st.repo.Name,
			commentID, st.pr.Number, body); err != nil {
			logger.Warn("Inline comment resync failed",
				zap.String("run_id", st.run.ID),
				zap.String("provider_comment_id", f.ProviderCommentID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// resolveSweptThreads closes the threads of findings this run marked fixed
// or obsolete. Best-effort on every forge.
func (o *Orchestrator) resolveSweptThreads(ctx context.Context, st *runState) {
	swept, err := o.store.SweptFindings(st.pr.ID, st.run.ID)
	if err != nil {
		logger.Warn("Cannot load swept findings", zap.String("run_id", st.run.ID), zap.Error(err))
		return
	}
	for _, f := range swept {
		if f.ProviderCommentID == "" {
			continue
		}
		commentID, err := strconv.ParseInt(f.ProviderCommentID, 10, 64)
		if err != nil {
			continue
		}
		if err := st.client.ResolveInlineThread(ctx, st.repo.Owner, st.repo.Name, st.pr.Number, commentID); err != nil {
			logger.Debug("Thread resolution failed",
				zap.String("run_id", st.run.ID),
				zap.String("provider_comment_id", f.ProviderCommentID),
				zap.Error(err),
			)
		}
	}
}

// upsertSummaryComment updates the PR's single status comment, creating it
// on first use.
func (o *Orchestrator) upsertSummaryComment(ctx context.Context, st *runState, body string) error {
	existing, err := o.store.SummaryComment(st.pr.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		commentID, perr := strconv.ParseInt(existing.ProviderCommentID, 10, 64)
		if perr == nil {
			if err := st.client.UpdateSummaryComment(ctx, st.repo.Owner, st.repo.Name,
				commentID, st.pr.Number, body); err == nil {
				existing.Body = body
				return o.store.UpsertReviewComment(existing)
			}
			// The comment may have been deleted on the forge; fall through
			// and post a fresh one.
		}
	}
	posted, err := st.client.CreateSummaryComment(ctx, st.repo.Owner, st.repo.Name, st.pr.Number, body)
	if err != nil {
		return err
	}
	return o.store.UpsertReviewComment(&model.ReviewComment{
		PullRequestID:     st.pr.ID,
		Kind:              model.CommentKindSummary,
		ProviderCommentID: strconv.FormatInt(posted.ID, 10),
		Body:              body,
		URL:               posted.URL,
	})
}

// updatePRBody replaces the marked block in the PR description, appending
// it when absent.
func (o *Orchestrator) updatePRBody(ctx context.Context, st *runState) error {
	body := spliceBodyBlock(st.pr.Body, renderBodySection(st))
	return st.client.UpdatePullRequestBody(ctx, st.repo.Owner, st.repo.Name, st.pr.Number, body)
}

// spliceBodyBlock replaces the marked region of a PR description with the
// given content, appending the block when the markers are absent.
func spliceBodyBlock(body, content string) string {
	block := bodyStartMarker + "\n" + content + "\n" + bodyEndMarker

	start := strings.Index(body, bodyStartMarker)
	end := strings.Index(body, bodyEndMarker)
	switch {
	case start >= 0 && end > start:
		return body[:start] + block + body[end+len(bodyEndMarker):]
	case strings.TrimSpace(body) == "":
		return block
	default:
		return strings.TrimRight(body, "\n") + "\n\n" + block
	}
}

// renderInlineBody formats one finding as a forge comment. The trailing
// marker carries the stage comment id so replies and reactions can be
// joined back to the finding.
func renderInlineBody(f *model.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**[%s/%s]** %s\n\n", f.Severity, f.Category, f.Title)
	b.WriteString(f.Body)
	b.WriteString("\n")
	if f.Evidence != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", strings.TrimRight(f.Evidence, "\n"))
	}
	if f.SuggestedPatch != "" {
		fmt.Fprintf(&b, "\n```suggestion\n%s\n```\n", strings.TrimRight(f.SuggestedPatch, "\n"))
	}
	if f.RuleID != "" {
		fmt.Fprintf(&b, "\nRule: `%s`\n", f.RuleID)
	}
	fmt.Fprintf(&b, "\n%s%s -->", inlineMarkerPrefix, f.CommentID)
	return b.String()
}

// renderSummaryComment renders the status comment for a completed run.
func renderSummaryComment(st *runState) string {
	var b strings.Builder
	b.WriteString("## Code review\n\n")
	b.WriteString(renderBodySection(st))

	if len(st.summaryExtras) > 0 {
		b.WriteString("\n### Additional notes\n")
		for _, c := range st.summaryExtras {
			fmt.Fprintf(&b, "- **%s** `%s`: %s\n", c.Severity, c.Path, c.Title)
		}
	}
	if st.checks != nil {
		b.WriteString("\n### Checks\n")
		b.WriteString(renderChecks(st.checks))
	}
	if len(st.warnings) > 0 {
		b.WriteString("\n<details><summary>Warnings</summary>\n\n")
		for _, w := range st.warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n</details>\n")
	}

	fmt.Fprintf(&b, "\n---\nRun `%s` on `%s` · %d new, %d open, %d fixed\n\n%s",
		st.run.ID, shortSHA(st.run.HeadSHA),
		st.reconciled.Created, len(st.reconciled.Open), st.reconciled.Fixed,
		summaryCommentMarker)
	return b.String()
}

// renderBodySection renders the summary proper, shared by the status
// comment and the PR body block.
func renderBodySection(st *runState) string {
	var b strings.Builder
	if st.summary != nil {
		b.WriteString(st.summary.Overview)
		b.WriteString("\n")
		if st.summary.Risk != "" {
			fmt.Fprintf(&b, "\n**Risk:** %s · **Confidence:** %.0f%%\n", st.summary.Risk, st.summary.Confidence*100)
		}
		if len(st.summary.KeyConcerns) > 0 {
			b.WriteString("\n**Key concerns**\n")
			for _, k := range st.summary.KeyConcerns {
				fmt.Fprintf(&b, "- %s\n", k)
			}
		}
		if len(st.summary.FileBreakdown) > 0 {
			b.WriteString("\n| File | Comments | Note |\n|---|---|---|\n")
			for _, fb := range st.summary.FileBreakdown {
				fmt.Fprintf(&b, "| `%s` | %d | %s |\n", fb.Path, fb.Comments, fb.Note)
			}
		}
		if st.summary.DiagramMermaid != "" {
			fmt.Fprintf(&b, "\n```mermaid\n%s```\n", st.summary.DiagramMermaid)
		}
	}
	return b.String()
}

// renderChecks formats the verifier results as a table.
func renderChecks(checks *schema.ChecksOutput) string {
	var b strings.Builder
	b.WriteString("| Check | Status | Summary |\n|---|---|---|\n")
	rows := []struct {
		name   string
		result *schema.CheckResult
	}{
		{"lint", checks.Checks.Lint},
		{"build", checks.Checks.Build},
		{"test", checks.Checks.Test},
	}
	for _, r := range rows {
		if r.result == nil {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", r.name, checkEmoji(r.result.Status)+" "+r.result.Status, r.result.Summary)
	}
	return b.String()
}

func checkEmoji(status string) string {
	switch status {
	case schema.CheckStatusPass:
		return ":white_check_mark:"
	case schema.CheckStatusFail, schema.CheckStatusError:
		return ":x:"
	case schema.CheckStatusTimeout:
		return ":hourglass:"
	default:
		return ":fast_forward:"
	}
}
