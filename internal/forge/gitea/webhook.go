package gitea

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// ParseWebhook verifies the X-Gitea-Signature HMAC and normalizes
// pull_request and issue_comment events. Other hooks return (nil, nil).
func (c *Client) ParseWebhook(r *http.Request, secret string) (*forge.Event, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitea: read webhook body", err)
	}

	if secret != "" {
		if !verifySignature(body, r.Header.Get("X-Gitea-Signature"), secret) {
			return nil, errors.New(errors.ErrCodeUnauthorized, "gitea: invalid webhook signature")
		}
	}

	switch r.Header.Get("X-Gitea-Event") {
	case "pull_request":
		return parsePullRequestEvent(body)
	case "issue_comment":
		return parseCommentEvent(body)
	default:
		logger.Debug("Ignoring gitea webhook event",
			zap.String("event", r.Header.Get("X-Gitea-Event")),
		)
		return nil, nil
	}
}

func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type gtRepository struct {
	Name  string `json:"name"`
	Owner struct {
		UserName string `json:"username"`
		Login    string `json:"login"`
	} `json:"owner"`
}

func (r gtRepository) ownerLogin() string {
	if r.Owner.UserName != "" {
		return r.Owner.UserName
	}
	return r.Owner.Login
}

type gtWebhookPR struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		UserName string `json:"username"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Head struct {
		Ref string `json:"ref"`
		Sha string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
		Sha string `json:"sha"`
	} `json:"base"`
	HTMLURL string `json:"html_url"`
}

func (p gtWebhookPR) toPullRequest() *forge.PullRequest {
	labels := make([]string, 0, len(p.Labels))
	for _, l := range p.Labels {
		labels = append(labels, l.Name)
	}
	return &forge.PullRequest{
		Number:     p.Number,
		Title:      p.Title,
		Body:       p.Body,
		State:      p.State,
		Draft:      isDraftTitle(p.Title),
		Author:     p.User.UserName,
		Labels:     labels,
		HeadBranch: p.Head.Ref,
		HeadSHA:    p.Head.Sha,
		BaseBranch: p.Base.Ref,
		BaseSHA:    p.Base.Sha,
		URL:        p.HTMLURL,
	}
}

func parsePullRequestEvent(body []byte) (*forge.Event, error) {
	var payload struct {
		Action      string       `json:"action"`
		PullRequest gtWebhookPR  `json:"pull_request"`
		Repository  gtRepository `json:"repository"`
		Sender      struct {
			UserName string `json:"username"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitea: parse pull_request event", err)
	}
	return &forge.Event{
		Provider:    "gitea",
		Type:        forge.EventPullRequest,
		Action:      normalizeAction(payload.Action),
		Owner:       payload.Repository.ownerLogin(),
		Repo:        payload.Repository.Name,
		Author:      payload.Sender.UserName,
		PullRequest: payload.PullRequest.toPullRequest(),
	}, nil
}

func parseCommentEvent(body []byte) (*forge.Event, error) {
	var payload struct {
		Action string `json:"action"`
		Issue  struct {
			Number      int `json:"number"`
			PullRequest *struct {
				Merged bool `json:"merged"`
			} `json:"pull_request"`
		} `json:"issue"`
		Comment struct {
			ID   int64  `json:"id"`
			Body string `json:"body"`
			User struct {
				UserName string `json:"username"`
			} `json:"user"`
		} `json:"comment"`
		Repository gtRepository `json:"repository"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "gitea: parse issue_comment event", err)
	}
	if payload.Issue.PullRequest == nil || payload.Action != "created" {
		return nil, nil
	}
	return &forge.Event{
		Provider:    "gitea",
		Type:        forge.EventComment,
		Action:      payload.Action,
		Owner:       payload.Repository.ownerLogin(),
		Repo:        payload.Repository.Name,
		Author:      payload.Comment.User.UserName,
		PullRequest: &forge.PullRequest{Number: payload.Issue.Number},
		CommentID:   payload.Comment.ID,
		CommentBody: payload.Comment.Body,
	}, nil
}

// normalizeAction maps Gitea action names onto the scheduler vocabulary.
func normalizeAction(action string) string {
	switch action {
	case "synchronized":
		return "synchronize"
	default:
		return action
	}
}
