package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// CommentTrigger classifies what a PR comment asks for.
type CommentTrigger string

const (
	CommentTriggerNone    CommentTrigger = ""
	CommentTriggerReview  CommentTrigger = "review"
	CommentTriggerMention CommentTrigger = "mention"
)

// ShouldReview evaluates the trigger predicates against a PR. The returned
// reason is set when the PR is skipped.
func (t TriggersConfig) ShouldReview(baseRef, author, title string, labels []string, draft bool) (bool, string) {
	if t.ManualOnly {
		return false, "manual-only mode"
	}
	if draft && !t.ReviewDrafts {
		return false, "draft PR"
	}
	if len(t.Branches) > 0 && !matchAnyGlob(t.Branches, baseRef) {
		return false, fmt.Sprintf("base branch %q not in include list", baseRef)
	}
	if matchAnyGlob(t.ExcludeBranches, baseRef) {
		return false, fmt.Sprintf("base branch %q excluded", baseRef)
	}
	if len(t.Labels) > 0 && !anyLabelIn(labels, t.Labels) {
		return false, "required label missing"
	}
	if anyLabelIn(labels, t.ExcludeLabels) {
		return false, "excluded label present"
	}
	if len(t.Authors) > 0 && !containsFold(t.Authors, author) {
		return false, fmt.Sprintf("author %q not in include list", author)
	}
	if containsFold(t.ExcludeAuthors, author) {
		return false, fmt.Sprintf("author %q excluded", author)
	}
	lowerTitle := strings.ToLower(title)
	for _, kw := range t.ExcludeKeywords {
		if kw != "" && strings.Contains(lowerTitle, strings.ToLower(kw)) {
			return false, fmt.Sprintf("title keyword %q", kw)
		}
	}
	return true, ""
}

// MatchComment classifies a comment body against the configured command
// patterns: slash commands request a review, mention patterns request a
// conversational reply.
func (t TriggersConfig) MatchComment(body string) CommentTrigger {
	lower := strings.ToLower(body)
	for _, pattern := range t.CommentTriggers {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" || !strings.Contains(lower, pattern) {
			continue
		}
		if strings.HasPrefix(pattern, "/") {
			return CommentTriggerReview
		}
		return CommentTriggerMention
	}
	return CommentTriggerNone
}

func matchAnyGlob(patterns []string, value string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if ok, err := doublestar.Match(p, value); err == nil && ok {
			return true
		}
	}
	return false
}

func anyLabelIn(labels, wanted []string) bool {
	for _, l := range labels {
		if containsFold(wanted, l) {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, v := range list {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
