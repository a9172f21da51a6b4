package review

import (
	"sort"

	"github.com/grepiku/grepiku/internal/model"
)

// feedbackHints summarizes how reviewers of this PR have historically
// received findings, per category.
type feedbackHints struct {
	// accepted and rejected feed the reviewer prompt.
	accepted []string
	rejected []string
	// muted categories are filtered during refinement (blocking exempt).
	muted map[string]bool
}

// loadFeedbackHints joins past feedback to its findings by stage comment id
// and nets reactions per category. A category whose net score reaches the
// downvote threshold is muted; the symmetric positive score marks it
// accepted.
func (o *Orchestrator) loadFeedbackHints(st *runState) error {
	st.feedback.muted = make(map[string]bool)
	if !st.resolved.Feedback.Enabled {
		return nil
	}

	runs, err := o.store.RunsForPR(st.pr.ID)
	if err != nil {
		return err
	}
	runIDs := make([]string, 0, len(runs))
	for _, r := range runs {
		if r.ID != st.run.ID {
			runIDs = append(runIDs, r.ID)
		}
	}
	feedback, err := o.store.FeedbackByRun(runIDs)
	if err != nil {
		return err
	}
	if len(feedback) == 0 {
		return nil
	}

	findings, err := o.store.FindingsForPR(st.pr.ID)
	if err != nil {
		return err
	}
	categoryByComment := make(map[string]string, len(findings))
	for _, f := range findings {
		if f.CommentID != "" {
			categoryByComment[f.CommentID] = f.Category
		}
	}

	score := make(map[string]int)
	for _, fb := range feedback {
		category, ok := categoryByComment[fb.CommentID]
		if !ok {
			continue
		}
		score[category] += sentimentScore(fb)
	}

	threshold := st.resolved.Feedback.DownvoteThreshold
	for category, net := range score {
		switch {
		case net <= -threshold:
			st.feedback.muted[category] = true
			st.feedback.rejected = append(st.feedback.rejected, category)
		case net >= threshold:
			st.feedback.accepted = append(st.feedback.accepted, category)
		}
	}
	sort.Strings(st.feedback.accepted)
	sort.Strings(st.feedback.rejected)
	return nil
}

// sentimentScore maps one feedback row to -1, 0, or +1. A reply that marks
// the finding resolved counts as acceptance.
func sentimentScore(fb model.Feedback) int {
	switch fb.Sentiment {
	case "+1", "thumbsup", "heart", "hooray", "rocket", "laugh":
		return 1
	case "-1", "thumbsdown", "confused":
		return -1
	}
	if fb.Type == model.FeedbackTypeReply && fb.Action == "resolved" {
		return 1
	}
	return 0
}
