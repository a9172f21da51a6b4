package gitlab

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// ParseWebhook checks the X-Gitlab-Token header and normalizes merge
// request, note, and emoji events. Other hooks return (nil, nil).
func (c *Client) ParseWebhook(r *http.Request, secret string) (*forge.Event, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitlab: read webhook body", err)
	}

	if secret != "" {
		token := r.Header.Get("X-Gitlab-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			return nil, errors.New(errors.ErrCodeUnauthorized, "gitlab: invalid webhook token")
		}
	}

	switch r.Header.Get("X-Gitlab-Event") {
	case "Merge Request Hook":
		return parseMergeRequestEvent(body)
	case "Note Hook":
		return parseNoteEvent(body)
	case "Emoji Hook":
		return parseEmojiEvent(body)
	default:
		logger.Debug("Ignoring gitlab webhook event",
			zap.String("event", r.Header.Get("X-Gitlab-Event")),
		)
		return nil, nil
	}
}

type glProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
}

func (p glProject) split() (string, string, error) {
	idx := strings.LastIndex(p.PathWithNamespace, "/")
	if idx <= 0 {
		return "", "", errors.New(errors.ErrCodeValidation, "gitlab: invalid project path "+p.PathWithNamespace)
	}
	return p.PathWithNamespace[:idx], p.PathWithNamespace[idx+1:], nil
}

type glMRAttributes struct {
	IID          int      `json:"iid"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	State        string   `json:"state"`
	Action       string   `json:"action"`
	Draft        bool     `json:"draft"`
	SourceBranch string   `json:"source_branch"`
	TargetBranch string   `json:"target_branch"`
	URL          string   `json:"url"`
	LastCommit   struct {
		ID string `json:"id"`
	} `json:"last_commit"`
	DiffRefs struct {
		BaseSha string `json:"base_sha"`
	} `json:"diff_refs"`
}

func (a glMRAttributes) toPullRequest(author string, labels []string) *forge.PullRequest {
	state := a.State
	if state == "opened" {
		state = "open"
	}
	return &forge.PullRequest{
		Number:     a.IID,
		Title:      a.Title,
		Body:       a.Description,
		State:      state,
		Draft:      a.Draft,
		Author:     author,
		Labels:     labels,
		HeadBranch: a.SourceBranch,
		HeadSHA:    a.LastCommit.ID,
		BaseBranch: a.TargetBranch,
		BaseSHA:    a.DiffRefs.BaseSha,
		URL:        a.URL,
	}
}

func parseMergeRequestEvent(body []byte) (*forge.Event, error) {
	var payload struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Project          glProject      `json:"project"`
		ObjectAttributes glMRAttributes `json:"object_attributes"`
		Labels           []struct {
			Title string `json:"title"`
		} `json:"labels"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitlab: parse merge request event", err)
	}
	owner, repo, err := payload.Project.split()
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(payload.Labels))
	for _, l := range payload.Labels {
		labels = append(labels, l.Title)
	}
	return &forge.Event{
		Provider:    "gitlab",
		Type:        forge.EventPullRequest,
		Action:      normalizeAction(payload.ObjectAttributes.Action),
		Owner:       owner,
		Repo:        repo,
		Author:      payload.User.Username,
		PullRequest: payload.ObjectAttributes.toPullRequest(payload.User.Username, labels),
	}, nil
}

func parseNoteEvent(body []byte) (*forge.Event, error) {
	var payload struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Project          glProject `json:"project"`
		ObjectAttributes struct {
			ID           int64  `json:"id"`
			Note         string `json:"note"`
			NoteableType string `json:"noteable_type"`
		} `json:"object_attributes"`
		MergeRequest *glMRAttributes `json:"merge_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitlab: parse note event", err)
	}
	if payload.ObjectAttributes.NoteableType != "MergeRequest" || payload.MergeRequest == nil {
		return nil, nil
	}
	owner, repo, err := payload.Project.split()
	if err != nil {
		return nil, err
	}
	return &forge.Event{
		Provider:    "gitlab",
		Type:        forge.EventComment,
		Action:      "created",
		Owner:       owner,
		Repo:        repo,
		Author:      payload.User.Username,
		PullRequest: payload.MergeRequest.toPullRequest("", nil),
		CommentID:   payload.ObjectAttributes.ID,
		CommentBody: payload.ObjectAttributes.Note,
	}, nil
}

func parseEmojiEvent(body []byte) (*forge.Event, error) {
	var payload struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
		Project          glProject `json:"project"`
		ObjectAttributes struct {
			Name          string `json:"name"`
			AwardableType string `json:"awardable_type"`
			AwardableID   int64  `json:"awardable_id"`
		} `json:"object_attributes"`
		MergeRequest *glMRAttributes `json:"merge_request"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitlab: parse emoji event", err)
	}
	if payload.ObjectAttributes.AwardableType != "Note" || payload.MergeRequest == nil {
		return nil, nil
	}
	owner, repo, err := payload.Project.split()
	if err != nil {
		return nil, err
	}
	return &forge.Event{
		Provider:    "gitlab",
		Type:        forge.EventReaction,
		Action:      "created",
		Owner:       owner,
		Repo:        repo,
		Author:      payload.User.Username,
		PullRequest: payload.MergeRequest.toPullRequest("", nil),
		CommentID:   payload.ObjectAttributes.AwardableID,
		Reaction:    payload.ObjectAttributes.Name,
	}, nil
}

// normalizeAction maps GitLab MR action names onto the GitHub-style
// vocabulary the scheduler consumes.
func normalizeAction(action string) string {
	switch action {
	case "open":
		return "opened"
	case "reopen":
		return "reopened"
	case "update":
		return "synchronize"
	case "close", "merge":
		return "closed"
	default:
		return action
	}
}
