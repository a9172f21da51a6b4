// Package gitea implements the forge client for Gitea and Forgejo
// instances. Inline comments ride on single-comment pull reviews and status
// checks on commit statuses.
package gitea

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"

	gt "code.gitea.io/sdk/gitea"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

const perPage = 50

func init() {
	forge.Register("gitea", New)
}

// Client implements forge.Client against the Gitea API.
type Client struct {
	api      *gt.Client
	token    string
	botLogin string
}

// New builds a Gitea client. BaseURL is required; there is no canonical
// hosted instance.
func New(opts *forge.Options) (forge.Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "gitea: base_url is required")
	}
	if opts.Token == "" {
		return nil, errors.New(errors.ErrCodeForgeAuth, "gitea: no token configured")
	}
	clientOpts := []gt.ClientOption{gt.SetToken(opts.Token)}
	if opts.InsecureSkipVerify {
		clientOpts = append(clientOpts, gt.SetHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}))
	}
	api, err := gt.NewClient(opts.BaseURL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeAuth, "gitea: create client", err)
	}
	return &Client{api: api, token: opts.Token, botLogin: opts.BotLogin}, nil
}

// Name returns the provider type.
func (c *Client) Name() string { return "gitea" }

// BotLogin returns the posting account.
func (c *Client) BotLogin() string { return c.botLogin }

// Token returns the configured token for git-over-HTTPS fetches.
func (c *Client) Token(ctx context.Context) (string, error) { return c.token, nil }

func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (*forge.PullRequest, error) {
	pr, _, err := c.api.GetPullRequest(owner, repo, int64(number))
	if err != nil {
		return nil, wrapErr("fetch pull request", err)
	}
	return convertPR(pr), nil
}

func (c *Client) FetchCommit(ctx context.Context, owner, repo, sha string) (*forge.Commit, error) {
	commit, _, err := c.api.GetSingleCommit(owner, repo, sha)
	if err != nil {
		return nil, wrapErr("fetch commit", err)
	}
	out := &forge.Commit{SHA: commit.SHA}
	if commit.RepoCommit != nil {
		out.Message = commit.RepoCommit.Message
	}
	if commit.Author != nil {
		out.Author = commit.Author.UserName
	}
	return out, nil
}

func (c *Client) FetchDiffPatch(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := c.api.GetPullRequestDiff(owner, repo, int64(number), gt.PullRequestDiffOptions{})
	if err != nil {
		return "", wrapErr("fetch diff", err)
	}
	return string(diff), nil
}

func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]forge.ChangedFile, error) {
	var out []forge.ChangedFile
	page := 1
	for {
		files, resp, err := c.api.ListPullRequestFiles(owner, repo, int64(number), gt.ListPullRequestFilesOptions{
			ListOptions: gt.ListOptions{Page: page, PageSize: perPage},
		})
		if err != nil {
			return nil, wrapErr("list changed files", err)
		}
		for _, f := range files {
			out = append(out, forge.ChangedFile{
				Path:      f.Filename,
				Status:    f.Status,
				Additions: f.Additions,
				Deletions: f.Deletions,
			})
		}
		if resp == nil || resp.NextPage == 0 || len(files) == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (c *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.api.EditPullRequest(owner, repo, int64(number), gt.EditPullRequestOption{Body: &body})
	return wrapErr("update pull request body", err)
}

func (c *Client) CreateSummaryComment(ctx context.Context, owner, repo string, number int, body string) (*forge.Comment, error) {
	created, _, err := c.api.CreateIssueComment(owner, repo, int64(number), gt.CreateIssueCommentOption{Body: body})
	if err != nil {
		return nil, wrapErr("create summary comment", err)
	}
	out := &forge.Comment{ID: created.ID, Body: created.Body, URL: created.HTMLURL}
	if created.Poster != nil {
		out.Author = created.Poster.UserName
	}
	return out, nil
}

func (c *Client) UpdateSummaryComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, _, err := c.api.EditIssueComment(owner, repo, commentID, gt.EditIssueCommentOption{Body: body})
	return wrapErr("update summary comment", err)
}

// CreateInlineComment posts a single-comment review, which is how Gitea
// anchors a comment to a diff line.
func (c *Client) CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, req forge.InlineCommentRequest) (*forge.InlineComment, error) {
	comment := gt.CreatePullReviewComment{Path: req.Path, Body: req.Body}
	if strings.EqualFold(req.Side, "LEFT") {
		comment.OldLineNum = int64(req.Line)
	} else {
		comment.NewLineNum = int64(req.Line)
	}
	review, _, err := c.api.CreatePullReview(owner, repo, int64(number), gt.CreatePullReviewOptions{
		State:    gt.ReviewStateComment,
		Comments: []gt.CreatePullReviewComment{comment},
	})
	if err != nil {
		return nil, wrapErr("create inline comment", err)
	}

	comments, _, err := c.api.ListPullReviewComments(owner, repo, int64(number), review.ID)
	if err != nil {
		return nil, wrapErr("read back review comment", err)
	}
	if len(comments) == 0 {
		return nil, errors.New(errors.ErrCodeForgeTransport, "gitea: review created without comments")
	}
	return convertReviewComment(comments[0]), nil
}

func (c *Client) ListInlineComments(ctx context.Context, owner, repo string, number int) ([]forge.InlineComment, error) {
	var out []forge.InlineComment
	page := 1
	for {
		reviews, resp, err := c.api.ListPullReviews(owner, repo, int64(number), gt.ListPullReviewsOptions{
			ListOptions: gt.ListOptions{Page: page, PageSize: perPage},
		})
		if err != nil {
			return nil, wrapErr("list reviews", err)
		}
		for _, review := range reviews {
			if review.CodeCommentsCount == 0 {
				continue
			}
			comments, _, cerr := c.api.ListPullReviewComments(owner, repo, int64(number), review.ID)
			if cerr != nil {
				return nil, wrapErr("list review comments", cerr)
			}
			for _, cm := range comments {
				out = append(out, *convertReviewComment(cm))
			}
		}
		if resp == nil || resp.NextPage == 0 || len(reviews) == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

// UpdateInlineComment edits the underlying comment record.
func (c *Client) UpdateInlineComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, _, err := c.api.EditIssueComment(owner, repo, commentID, gt.EditIssueCommentOption{Body: body})
	return wrapErr("update inline comment", err)
}

// ResolveInlineThread is not exposed by the Gitea API. Treated as a no-op.
func (c *Client) ResolveInlineThread(ctx context.Context, owner, repo string, number int, commentID int64) error {
	logger.Debug("Thread resolution skipped on gitea",
		zap.Int64("comment_id", commentID),
	)
	return nil
}

func (c *Client) CreateStatusCheck(ctx context.Context, owner, repo, sha, name string) (int64, error) {
	status, _, err := c.api.CreateStatus(owner, repo, sha, gt.CreateStatusOption{
		State:   gt.StatusPending,
		Context: name,
	})
	if err != nil {
		return 0, wrapErr("create commit status", err)
	}
	return status.ID, nil
}

// UpdateStatusCheck maps conclusions onto commit-status states; neutral
// completes as success since Gitea has no neutral state.
func (c *Client) UpdateStatusCheck(ctx context.Context, owner, repo string, checkID int64, sha, name, conclusion, summary string) error {
	state := gt.StatusSuccess
	if conclusion == forge.ConclusionFailure {
		state = gt.StatusFailure
	}
	_, _, err := c.api.CreateStatus(owner, repo, sha, gt.CreateStatusOption{
		State:       state,
		Context:     name,
		Description: summary,
	})
	return wrapErr("update commit status", err)
}

func (c *Client) AddReaction(ctx context.Context, owner, repo string, commentID int64, number int, content string) error {
	_, _, err := c.api.PostIssueCommentReaction(owner, repo, commentID, content)
	return wrapErr("add reaction", err)
}

// ReplyToComment posts a plain comment; Gitea has no threaded replies.
func (c *Client) ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, _, err := c.api.CreateIssueComment(owner, repo, int64(number), gt.CreateIssueCommentOption{Body: body})
	return wrapErr("reply to comment", err)
}

func (c *Client) FindOpenPullRequestByHead(ctx context.Context, owner, repo, headBranch string) (*forge.PullRequest, error) {
	page := 1
	for {
		prs, resp, err := c.api.ListRepoPullRequests(owner, repo, gt.ListPullRequestsOptions{
			State:       gt.StateOpen,
			ListOptions: gt.ListOptions{Page: page, PageSize: perPage},
		})
		if err != nil {
			return nil, wrapErr("list pull requests", err)
		}
		for _, pr := range prs {
			if pr.Head != nil && pr.Head.Ref == headBranch {
				return convertPR(pr), nil
			}
		}
		if resp == nil || resp.NextPage == 0 || len(prs) == 0 {
			return nil, nil
		}
		page = resp.NextPage
	}
}

func convertPR(pr *gt.PullRequest) *forge.PullRequest {
	out := &forge.PullRequest{
		Number: int(pr.Index),
		Title:  pr.Title,
		Body:   pr.Body,
		State:  string(pr.State),
		Draft:  isDraftTitle(pr.Title),
		URL:    pr.HTMLURL,
	}
	if pr.HasMerged {
		out.State = "merged"
	}
	if pr.Poster != nil {
		out.Author = pr.Poster.UserName
	}
	for _, l := range pr.Labels {
		out.Labels = append(out.Labels, l.Name)
	}
	if pr.Head != nil {
		out.HeadBranch = pr.Head.Ref
		out.HeadSHA = pr.Head.Sha
	}
	if pr.Base != nil {
		out.BaseBranch = pr.Base.Ref
		out.BaseSHA = pr.Base.Sha
	}
	return out
}

func convertReviewComment(cm *gt.PullReviewComment) *forge.InlineComment {
	out := &forge.InlineComment{
		ID:   cm.ID,
		Path: cm.Path,
		Body: cm.Body,
		URL:  cm.HTMLURL,
	}
	if cm.Reviewer != nil {
		out.Author = cm.Reviewer.UserName
	}
	if cm.LineNum != 0 {
		out.Line = int(cm.LineNum)
		out.Side = "RIGHT"
	} else {
		out.Line = int(cm.OldLineNum)
		out.Side = "LEFT"
	}
	return out
}

// isDraftTitle applies Gitea's WIP-prefix convention; the API has no draft
// flag.
func isDraftTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	return strings.HasPrefix(t, "wip:") || strings.HasPrefix(t, "[wip]") || strings.HasPrefix(t, "draft:")
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	code := errors.ErrCodeForgeTransport
	msg := err.Error()
	switch {
	case strings.Contains(msg, "404"):
		code = errors.ErrCodeForgeNotFound
	case strings.Contains(msg, "401"):
		code = errors.ErrCodeForgeAuth
	case strings.Contains(msg, "403"):
		code = errors.ErrCodeForgePermission
	}
	return errors.Wrap(code, "gitea: "+op, err)
}
