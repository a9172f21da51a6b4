package github

import (
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// ParseWebhook verifies the X-Hub-Signature-256 header and normalizes the
// payload. Event kinds the service does not consume return (nil, nil).
func (c *Client) ParseWebhook(r *http.Request, secret string) (*forge.Event, error) {
	payload, err := gh.ValidatePayload(r, []byte(secret))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnauthorized, "github: invalid webhook signature", err)
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, "github: parse webhook payload", err)
	}

	switch e := event.(type) {
	case *gh.PullRequestEvent:
		owner, repo := splitFullName(e.GetRepo().GetFullName())
		return &forge.Event{
			Provider:       "github",
			Type:           forge.EventPullRequest,
			Action:         e.GetAction(),
			Owner:          owner,
			Repo:           repo,
			InstallationID: e.GetInstallation().GetID(),
			Author:         e.GetSender().GetLogin(),
			PullRequest:    convertPR(e.GetPullRequest()),
		}, nil

	case *gh.IssueCommentEvent:
		if !e.GetIssue().IsPullRequest() || e.GetAction() != "created" {
			return nil, nil
		}
		owner, repo := splitFullName(e.GetRepo().GetFullName())
		return &forge.Event{
			Provider:       "github",
			Type:           forge.EventComment,
			Action:         e.GetAction(),
			Owner:          owner,
			Repo:           repo,
			InstallationID: e.GetInstallation().GetID(),
			Author:         e.GetComment().GetUser().GetLogin(),
			PullRequest:    &forge.PullRequest{Number: e.GetIssue().GetNumber()},
			CommentID:      e.GetComment().GetID(),
			CommentBody:    e.GetComment().GetBody(),
		}, nil

	case *gh.PullRequestReviewCommentEvent:
		if e.GetAction() != "created" {
			return nil, nil
		}
		owner, repo := splitFullName(e.GetRepo().GetFullName())
		return &forge.Event{
			Provider:       "github",
			Type:           forge.EventComment,
			Action:         e.GetAction(),
			Owner:          owner,
			Repo:           repo,
			InstallationID: e.GetInstallation().GetID(),
			Author:         e.GetComment().GetUser().GetLogin(),
			PullRequest:    convertPR(e.GetPullRequest()),
			CommentID:      e.GetComment().GetID(),
			CommentBody:    e.GetComment().GetBody(),
			InReplyTo:      e.GetComment().GetInReplyTo(),
		}, nil

	default:
		logger.Debug("Ignoring github webhook event",
			zap.String("event", gh.WebHookType(r)),
		)
		return nil, nil
	}
}

func splitFullName(fullName string) (owner, repo string) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return fullName, ""
	}
	return parts[0], parts[1]
}
