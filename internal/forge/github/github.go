// Package github implements the forge client for GitHub and GitHub
// Enterprise, authenticated either with a personal access token or as a
// GitHub App installation.
package github

import (
	"context"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

const perPage = 100

func init() {
	forge.Register("github", New)
}

// Client implements forge.Client against the GitHub REST API.
type Client struct {
	api      *gh.Client
	botLogin string
	token    string
	app      *appTokenSource
}

// New builds a GitHub client. With AppID and AppPrivateKey set it
// authenticates as an App installation; otherwise Token is used as a PAT.
func New(opts *forge.Options) (forge.Client, error) {
	c := &Client{botLogin: opts.BotLogin}

	var httpClient *http.Client
	switch {
	case opts.AppID != 0 && opts.AppPrivateKey != "":
		app, err := newAppTokenSource(opts.AppID, opts.AppPrivateKey, opts.InstallationID, opts.BaseURL)
		if err != nil {
			return nil, err
		}
		c.app = app
		httpClient = oauth2.NewClient(context.Background(), app)
	case opts.Token != "":
		c.token = opts.Token
		httpClient = oauth2.NewClient(context.Background(),
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	default:
		return nil, errors.New(errors.ErrCodeForgeAuth, "github: no token or app credentials configured")
	}

	api := gh.NewClient(httpClient)
	if opts.BaseURL != "" {
		var err error
		api, err = api.WithEnterpriseURLs(opts.BaseURL, opts.BaseURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "github: enterprise base URL", err)
		}
	}
	c.api = api
	return c, nil
}

// Name returns the provider type.
func (c *Client) Name() string { return "github" }

// BotLogin returns the posting account.
func (c *Client) BotLogin() string { return c.botLogin }

// Token returns a token usable for git-over-HTTPS fetches. For App
// installations this mints (or reuses) an installation access token.
func (c *Client) Token(ctx context.Context) (string, error) {
	if c.app != nil {
		return c.app.installationToken(ctx)
	}
	return c.token, nil
}

func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (*forge.PullRequest, error) {
	pr, resp, err := c.api.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapErr("fetch pull request", resp, err)
	}
	return convertPR(pr), nil
}

func (c *Client) FetchCommit(ctx context.Context, owner, repo, sha string) (*forge.Commit, error) {
	commit, resp, err := c.api.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, wrapErr("fetch commit", resp, err)
	}
	return &forge.Commit{
		SHA:     commit.GetSHA(),
		Message: commit.GetCommit().GetMessage(),
		Author:  commit.GetAuthor().GetLogin(),
	}, nil
}

func (c *Client) FetchDiffPatch(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, resp, err := c.api.PullRequests.GetRaw(ctx, owner, repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", wrapErr("fetch diff", resp, err)
	}
	return diff, nil
}

func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]forge.ChangedFile, error) {
	var out []forge.ChangedFile
	opt := &gh.ListOptions{PerPage: perPage}
	for {
		files, resp, err := c.api.PullRequests.ListFiles(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, wrapErr("list changed files", resp, err)
		}
		for _, f := range files {
			out = append(out, forge.ChangedFile{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := c.api.PullRequests.Edit(ctx, owner, repo, number, &gh.PullRequest{Body: &body})
	return wrapErr("update pull request body", resp, err)
}

func (c *Client) CreateSummaryComment(ctx context.Context, owner, repo string, number int, body string) (*forge.Comment, error) {
	created, resp, err := c.api.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: &body})
	if err != nil {
		return nil, wrapErr("create summary comment", resp, err)
	}
	return &forge.Comment{
		ID:     created.GetID(),
		Body:   created.GetBody(),
		Author: created.GetUser().GetLogin(),
		URL:    created.GetHTMLURL(),
	}, nil
}

func (c *Client) UpdateSummaryComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, resp, err := c.api.Issues.EditComment(ctx, owner, repo, commentID, &gh.IssueComment{Body: &body})
	return wrapErr("update summary comment", resp, err)
}

func (c *Client) CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, req forge.InlineCommentRequest) (*forge.InlineComment, error) {
	comment := &gh.PullRequestComment{
		Path:     gh.String(req.Path),
		Line:     gh.Int(req.Line),
		Side:     gh.String(req.Side),
		Body:     gh.String(req.Body),
		CommitID: gh.String(headSHA),
	}
	created, resp, err := c.api.PullRequests.CreateComment(ctx, owner, repo, number, comment)
	if err != nil {
		return nil, wrapErr("create inline comment", resp, err)
	}
	return convertInline(created), nil
}

func (c *Client) ListInlineComments(ctx context.Context, owner, repo string, number int) ([]forge.InlineComment, error) {
	var out []forge.InlineComment
	opt := &gh.PullRequestListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := c.api.PullRequests.ListComments(ctx, owner, repo, number, opt)
		if err != nil {
			return nil, wrapErr("list inline comments", resp, err)
		}
		for _, cm := range comments {
			out = append(out, *convertInline(cm))
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) UpdateInlineComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, resp, err := c.api.PullRequests.EditComment(ctx, owner, repo, commentID, &gh.PullRequestComment{Body: &body})
	return wrapErr("update inline comment", resp, err)
}

// ResolveInlineThread is unavailable through the REST API; resolution needs
// the GraphQL resolveReviewThread mutation. Treated as a no-op.
func (c *Client) ResolveInlineThread(ctx context.Context, owner, repo string, number int, commentID int64) error {
	logger.Debug("Thread resolution skipped on github",
		zap.Int64("comment_id", commentID),
	)
	return nil
}

func (c *Client) CreateStatusCheck(ctx context.Context, owner, repo, sha, name string) (int64, error) {
	run, resp, err := c.api.Checks.CreateCheckRun(ctx, owner, repo, gh.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: sha,
		Status:  gh.String(forge.CheckInProgress),
	})
	if err != nil {
		return 0, wrapErr("create status check", resp, err)
	}
	return run.GetID(), nil
}

func (c *Client) UpdateStatusCheck(ctx context.Context, owner, repo string, checkID int64, sha, name, conclusion, summary string) error {
	_, resp, err := c.api.Checks.UpdateCheckRun(ctx, owner, repo, checkID, gh.UpdateCheckRunOptions{
		Name:       name,
		Status:     gh.String(forge.CheckCompleted),
		Conclusion: gh.String(conclusion),
		Output: &gh.CheckRunOutput{
			Title:   gh.String(name),
			Summary: gh.String(summary),
		},
	})
	return wrapErr("update status check", resp, err)
}

// AddReaction acknowledges a review comment; on 404 it retries the comment
// as an issue comment, since callers cannot always tell the two apart.
func (c *Client) AddReaction(ctx context.Context, owner, repo string, commentID int64, number int, content string) error {
	_, resp, err := c.api.Reactions.CreatePullRequestCommentReaction(ctx, owner, repo, commentID, content)
	if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
		_, resp, err = c.api.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
	}
	return wrapErr("add reaction", resp, err)
}

func (c *Client) ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	_, resp, err := c.api.PullRequests.CreateCommentInReplyTo(ctx, owner, repo, number, body, commentID)
	return wrapErr("reply to comment", resp, err)
}

func (c *Client) FindOpenPullRequestByHead(ctx context.Context, owner, repo, headBranch string) (*forge.PullRequest, error) {
	prs, resp, err := c.api.PullRequests.List(ctx, owner, repo, &gh.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + headBranch,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, wrapErr("find pull request by head", resp, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return convertPR(prs[0]), nil
}

func convertPR(pr *gh.PullRequest) *forge.PullRequest {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}
	return &forge.PullRequest{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		State:      state,
		Draft:      pr.GetDraft(),
		Author:     pr.GetUser().GetLogin(),
		Labels:     labels,
		HeadBranch: pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
		BaseSHA:    pr.GetBase().GetSHA(),
		URL:        pr.GetHTMLURL(),
	}
}

func convertInline(cm *gh.PullRequestComment) *forge.InlineComment {
	return &forge.InlineComment{
		ID:        cm.GetID(),
		Path:      cm.GetPath(),
		Line:      cm.GetLine(),
		Side:      cm.GetSide(),
		Body:      cm.GetBody(),
		Author:    cm.GetUser().GetLogin(),
		InReplyTo: cm.GetInReplyTo(),
		URL:       cm.GetHTMLURL(),
	}
}

// wrapErr maps a GitHub API failure onto forge error codes. A 403 counts as
// a permission error only when it is clearly not throttling; an ambiguous
// 403 stays a transport error so the run fails loudly instead of silently
// downgrading.
func wrapErr(op string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	code := errors.ErrCodeForgeTransport
	if _, ok := err.(*gh.RateLimitError); ok {
		return errors.Wrap(code, "github: "+op, err)
	}
	if _, ok := err.(*gh.AbuseRateLimitError); ok {
		return errors.Wrap(code, "github: "+op, err)
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			code = errors.ErrCodeForgeNotFound
		case http.StatusUnauthorized:
			code = errors.ErrCodeForgeAuth
		case http.StatusForbidden:
			if resp.Header.Get("X-RateLimit-Remaining") != "0" {
				code = errors.ErrCodeForgePermission
			}
		case http.StatusNotAcceptable:
			code = errors.ErrCodeForgeTooLarge
		}
	}
	if strings.Contains(err.Error(), "too_large") || strings.Contains(err.Error(), "diff is too large") {
		code = errors.ErrCodeForgeTooLarge
	}
	return errors.Wrap(code, "github: "+op, err)
}
