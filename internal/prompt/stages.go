package prompt

import (
	"fmt"
	"strings"
)

// ReviewerInput carries the run-specific context for the reviewer prompt.
type ReviewerInput struct {
	Rules []string
	// Incremental marks a delta review against the previous run's head.
	IncrementalBase string
	// AcceptedCategories and RejectedCategories summarize historical
	// reviewer feedback for this repository.
	AcceptedCategories []string
	RejectedCategories []string
	MaxInlineComments  int
}

// Reviewer builds the prompt for the draft-review stage.
func Reviewer(in ReviewerInput) string {
	spec := &Spec{
		Role: "You are a senior code reviewer. Review the pull request in the bundle and report genuine issues in the changed code.",
		Goals: []string{
			"Find bugs, security problems, performance regressions, and maintainability issues introduced by this change.",
			"Ground every finding in the diff: cite the exact changed line and quote the evidence.",
			"Prefer a few high-value findings over many speculative ones.",
		},
		Inputs: []InputRef{
			{File: "pr.md", Purpose: "pull request title, body, and metadata"},
			{File: "diff.patch", Purpose: "the unified diff under review"},
			{File: "changed_files.json", Purpose: "changed file list with counts"},
			{File: "context_pack.json", Purpose: "related files, graph links, and hotspots"},
			{File: "bot_config.json", Purpose: "the effective review configuration"},
			{File: "rules.json", Purpose: "repository-specific review instructions"},
		},
		Rules: []string{
			"Only comment on lines present in diff.patch; use side LEFT for removed lines and RIGHT for added lines.",
			"Severity blocking is reserved for defects that must not merge; include a suggested_patch when you use it.",
			"Every finding needs non-empty evidence quoting the problematic code.",
			fmt.Sprintf("Emit at most %d findings.", in.MaxInlineComments),
		},
		Output: "Write `draft_review.json` to the out directory: a JSON object with `comments` (array of review comments) and `summary` (overview, risk, key_concerns).",
	}
	if in.IncrementalBase != "" {
		spec.Addendum = append(spec.Addendum,
			"This is an incremental review: the diff covers only commits since "+in.IncrementalBase+
				". Focus on the delta and do not re-report issues in untouched code.")
	}
	if len(in.RejectedCategories) > 0 {
		spec.Addendum = append(spec.Addendum,
			"Reviewers of this repository frequently dismiss findings in these categories: "+
				strings.Join(in.RejectedCategories, ", ")+". Raise them only when clearly justified.")
	}
	if len(in.AcceptedCategories) > 0 {
		spec.Addendum = append(spec.Addendum,
			"Findings in these categories are usually acted on here: "+strings.Join(in.AcceptedCategories, ", ")+".")
	}
	if len(in.Rules) > 0 {
		spec.Addendum = append(spec.Addendum, "Repository instructions:\n"+bulleted(in.Rules))
	}
	return spec.Render()
}

// Editor builds the prompt for the verdict stage. The draft is passed
// inline so the editor judges exactly what the reviewer produced.
func Editor(draftJSON string, strictness string) string {
	spec := &Spec{
		Role: "You are the review editor. Judge each draft finding and keep only what a maintainer would act on.",
		Goals: []string{
			"Drop findings that are speculative, duplicate, or out of scope.",
			"Revise findings whose wording, severity, or placement is wrong.",
			"Tighten the summary so it reads as one coherent review.",
		},
		Rules: []string{
			"Strictness is " + strictness + ".",
			"A revised comment must stay on the same path and keep all required fields.",
			"Never invent findings the reviewer did not raise.",
		},
		Output: "Write `final_review.json` (the cleaned review) and `verdicts.json` (one verdict per draft comment_id with action keep, revise, or drop) to the out directory.",
		Addendum: []string{
			"Draft review:\n```json\n" + draftJSON + "\n```",
		},
	}
	return spec.Render()
}

// Coverage builds the prompt for the optional coverage stage over changed
// files the edited review left untouched.
func Coverage(targets []string) string {
	spec := &Spec{
		Role: "You are auditing review coverage. The files below changed in this pull request but received no findings.",
		Goals: []string{
			"Check each listed file's changed hunks for issues the main review missed.",
			"Report only findings you are confident about; an empty result is a good result.",
		},
		Inputs: []InputRef{
			{File: "diff.patch", Purpose: "the unified diff under review"},
			{File: "context_pack.json", Purpose: "related files and hotspots"},
		},
		Rules: []string{
			"Only comment on lines present in diff.patch.",
			"Restrict findings to these files: " + strings.Join(targets, ", ") + ".",
		},
		Output: "Write `coverage_review.json` to the out directory: a JSON object with `comments`, shaped exactly like a draft review.",
	}
	return spec.Render()
}

// Verifier builds the prompt for the checks stage, which runs lint, build,
// and tests inside the checkout.
func Verifier(headSHA string) string {
	spec := &Spec{
		Role: "You verify the change builds and passes its checks.",
		Goals: []string{
			"Run the repository's lint, build, and test commands when they exist.",
			"Summarize each check's outcome with its most relevant errors.",
		},
		Rules: []string{
			"Mark a check skipped when the repository has no such command.",
			"Mark a check timeout when it exceeds its budget rather than letting it hang.",
		},
		Output: fmt.Sprintf("Write `checks.json` to the out directory: {\"head_sha\": %q, \"checks\": {\"lint\"|\"build\"|\"test\": {\"status\": \"pass|fail|timeout|skipped|error\", \"summary\": ..., \"top_errors\": [...]}}}.", headSHA),
	}
	return spec.Render()
}

func bulleted(items []string) string {
	var b strings.Builder
	writeBullets(&b, items)
	return b.String()
}
