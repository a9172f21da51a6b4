// Package gitlab implements the forge client for GitLab merge requests.
// Inline comments map to diff-note discussions and status checks to commit
// statuses.
package gitlab

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
)

const perPage = 100

func init() {
	forge.Register("gitlab", New)
}

// Client implements forge.Client against the GitLab REST API.
type Client struct {
	api      *gl.Client
	token    string
	botLogin string
}

// New builds a GitLab client from a personal or project access token.
func New(opts *forge.Options) (forge.Client, error) {
	if opts.Token == "" {
		return nil, errors.New(errors.ErrCodeForgeAuth, "gitlab: no token configured")
	}
	var clientOpts []gl.ClientOptionFunc
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, gl.WithBaseURL(opts.BaseURL))
	}
	if opts.InsecureSkipVerify {
		clientOpts = append(clientOpts, gl.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}))
	}
	api, err := gl.NewClient(opts.Token, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeForgeAuth, "gitlab: create client", err)
	}
	return &Client{api: api, token: opts.Token, botLogin: opts.BotLogin}, nil
}

// Name returns the provider type.
func (c *Client) Name() string { return "gitlab" }

// BotLogin returns the posting account.
func (c *Client) BotLogin() string { return c.botLogin }

// Token returns the configured token for git-over-HTTPS fetches.
func (c *Client) Token(ctx context.Context) (string, error) { return c.token, nil }

func pid(owner, repo string) string { return owner + "/" + repo }

func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (*forge.PullRequest, error) {
	mr, resp, err := c.api.MergeRequests.GetMergeRequest(pid(owner, repo), int64(number), nil, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch merge request", resp, err)
	}
	return convertMR(mr), nil
}

func (c *Client) FetchCommit(ctx context.Context, owner, repo, sha string) (*forge.Commit, error) {
	commit, resp, err := c.api.Commits.GetCommit(pid(owner, repo), sha, nil, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch commit", resp, err)
	}
	return &forge.Commit{
		SHA:     commit.ID,
		Message: commit.Message,
		Author:  commit.AuthorName,
	}, nil
}

// FetchDiffPatch assembles a unified diff from the MR's per-file diffs.
func (c *Client) FetchDiffPatch(ctx context.Context, owner, repo string, number int) (string, error) {
	diffs, err := c.listDiffs(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, d := range diffs {
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", d.OldPath, d.NewPath)
		fmt.Fprintf(&b, "--- a/%s\n", d.OldPath)
		fmt.Fprintf(&b, "+++ b/%s\n", d.NewPath)
		b.WriteString(d.Diff)
		if !strings.HasSuffix(d.Diff, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]forge.ChangedFile, error) {
	diffs, err := c.listDiffs(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	out := make([]forge.ChangedFile, 0, len(diffs))
	for _, d := range diffs {
		cf := forge.ChangedFile{Path: d.NewPath, Status: "modified"}
		switch {
		case d.NewFile:
			cf.Status = "added"
		case d.DeletedFile:
			cf.Status = "removed"
			cf.Path = d.OldPath
		case d.RenamedFile:
			cf.Status = "renamed"
		}
		for _, line := range strings.Split(d.Diff, "\n") {
			switch {
			case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
				cf.Additions++
			case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
				cf.Deletions++
			}
		}
		out = append(out, cf)
	}
	return out, nil
}

func (c *Client) listDiffs(ctx context.Context, owner, repo string, number int) ([]*gl.MergeRequestDiff, error) {
	var out []*gl.MergeRequestDiff
	opt := &gl.ListMergeRequestDiffsOptions{ListOptions: gl.ListOptions{PerPage: perPage}}
	for {
		diffs, resp, err := c.api.MergeRequests.ListMergeRequestDiffs(pid(owner, repo), int64(number), opt, gl.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("list merge request diffs", resp, err)
		}
		out = append(out, diffs...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error {
	_, resp, err := c.api.MergeRequests.UpdateMergeRequest(pid(owner, repo), int64(number), &gl.UpdateMergeRequestOptions{
		Description: gl.Ptr(body),
	}, gl.WithContext(ctx))
	return wrapErr("update merge request description", resp, err)
}

func (c *Client) CreateSummaryComment(ctx context.Context, owner, repo string, number int, body string) (*forge.Comment, error) {
	note, resp, err := c.api.Notes.CreateMergeRequestNote(pid(owner, repo), int64(number), &gl.CreateMergeRequestNoteOptions{
		Body: gl.Ptr(body),
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("create summary note", resp, err)
	}
	return &forge.Comment{
		ID:     note.ID,
		Body:   note.Body,
		Author: note.Author.Username,
	}, nil
}

func (c *Client) UpdateSummaryComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, resp, err := c.api.Notes.UpdateMergeRequestNote(pid(owner, repo), int64(number), commentID, &gl.UpdateMergeRequestNoteOptions{
		Body: gl.Ptr(body),
	}, gl.WithContext(ctx))
	return wrapErr("update summary note", resp, err)
}

// CreateInlineComment opens a diff-note discussion. GitLab positions need
// the MR's diff refs, so the MR is fetched first.
func (c *Client) CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, req forge.InlineCommentRequest) (*forge.InlineComment, error) {
	mr, resp, err := c.api.MergeRequests.GetMergeRequest(pid(owner, repo), int64(number), nil, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch merge request for position", resp, err)
	}

	pos := &gl.PositionOptions{
		PositionType: gl.Ptr("text"),
		BaseSHA:      gl.Ptr(mr.DiffRefs.BaseSha),
		StartSHA:     gl.Ptr(mr.DiffRefs.StartSha),
		HeadSHA:      gl.Ptr(mr.DiffRefs.HeadSha),
		NewPath:      gl.Ptr(req.Path),
		OldPath:      gl.Ptr(req.Path),
	}
	if strings.EqualFold(req.Side, "LEFT") {
		pos.OldLine = gl.Ptr(int64(req.Line))
	} else {
		pos.NewLine = gl.Ptr(int64(req.Line))
	}

	disc, resp, err := c.api.Discussions.CreateMergeRequestDiscussion(pid(owner, repo), int64(number), &gl.CreateMergeRequestDiscussionOptions{
		Body:     gl.Ptr(req.Body),
		Position: pos,
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("create diff discussion", resp, err)
	}
	if len(disc.Notes) == 0 {
		return nil, errors.New(errors.ErrCodeForgeTransport, "gitlab: discussion created without notes")
	}
	note := disc.Notes[0]
	return &forge.InlineComment{
		ID:     note.ID,
		Path:   req.Path,
		Line:   req.Line,
		Side:   req.Side,
		Body:   note.Body,
		Author: note.Author.Username,
	}, nil
}

func (c *Client) ListInlineComments(ctx context.Context, owner, repo string, number int) ([]forge.InlineComment, error) {
	var out []forge.InlineComment
	opt := &gl.ListMergeRequestNotesOptions{ListOptions: gl.ListOptions{PerPage: perPage}}
	for {
		notes, resp, err := c.api.Notes.ListMergeRequestNotes(pid(owner, repo), int64(number), opt, gl.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("list merge request notes", resp, err)
		}
		for _, note := range notes {
			if note.Type != "DiffNote" || note.Position == nil {
				continue
			}
			ic := forge.InlineComment{
				ID:     note.ID,
				Body:   note.Body,
				Author: note.Author.Username,
				Path:   note.Position.NewPath,
				Side:   "RIGHT",
			}
			if note.Position.NewLine != 0 {
				ic.Line = int(note.Position.NewLine)
			} else {
				ic.Line = int(note.Position.OldLine)
				ic.Side = "LEFT"
				ic.Path = note.Position.OldPath
			}
			out = append(out, ic)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) UpdateInlineComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error {
	_, resp, err := c.api.Notes.UpdateMergeRequestNote(pid(owner, repo), int64(number), commentID, &gl.UpdateMergeRequestNoteOptions{
		Body: gl.Ptr(body),
	}, gl.WithContext(ctx))
	return wrapErr("update merge request note", resp, err)
}

// ResolveInlineThread resolves the discussion holding the note.
func (c *Client) ResolveInlineThread(ctx context.Context, owner, repo string, number int, commentID int64) error {
	discussionID, err := c.findDiscussionByNote(ctx, owner, repo, number, commentID)
	if err != nil {
		return err
	}
	if discussionID == "" {
		return nil
	}
	_, resp, err := c.api.Discussions.ResolveMergeRequestDiscussion(pid(owner, repo), int64(number), discussionID, &gl.ResolveMergeRequestDiscussionOptions{
		Resolved: gl.Ptr(true),
	}, gl.WithContext(ctx))
	return wrapErr("resolve discussion", resp, err)
}

func (c *Client) CreateStatusCheck(ctx context.Context, owner, repo, sha, name string) (int64, error) {
	status, resp, err := c.api.Commits.SetCommitStatus(pid(owner, repo), sha, &gl.SetCommitStatusOptions{
		State: gl.Running,
		Name:  gl.Ptr(name),
	}, gl.WithContext(ctx))
	if err != nil {
		return 0, wrapErr("create commit status", resp, err)
	}
	return int64(status.ID), nil
}

// UpdateStatusCheck maps check conclusions onto commit-status states;
// GitLab has no neutral state, so neutral completes as success.
func (c *Client) UpdateStatusCheck(ctx context.Context, owner, repo string, checkID int64, sha, name, conclusion, summary string) error {
	state := gl.Success
	if conclusion == forge.ConclusionFailure {
		state = gl.Failed
	}
	_, resp, err := c.api.Commits.SetCommitStatus(pid(owner, repo), sha, &gl.SetCommitStatusOptions{
		State:       state,
		Name:        gl.Ptr(name),
		Description: gl.Ptr(summary),
	}, gl.WithContext(ctx))
	return wrapErr("update commit status", resp, err)
}

func (c *Client) AddReaction(ctx context.Context, owner, repo string, commentID int64, number int, content string) error {
	_, resp, err := c.api.AwardEmoji.CreateMergeRequestAwardEmojiOnNote(pid(owner, repo), int64(number), commentID, &gl.CreateAwardEmojiOptions{
		Name: content,
	}, gl.WithContext(ctx))
	return wrapErr("add award emoji", resp, err)
}

// ReplyToComment answers inside the note's discussion when one exists,
// otherwise falls back to a plain MR note.
func (c *Client) ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error {
	discussionID, err := c.findDiscussionByNote(ctx, owner, repo, number, commentID)
	if err != nil {
		return err
	}
	if discussionID != "" {
		_, resp, aerr := c.api.Discussions.AddMergeRequestDiscussionNote(pid(owner, repo), int64(number), discussionID, &gl.AddMergeRequestDiscussionNoteOptions{
			Body: gl.Ptr(body),
		}, gl.WithContext(ctx))
		return wrapErr("reply in discussion", resp, aerr)
	}
	_, resp, err := c.api.Notes.CreateMergeRequestNote(pid(owner, repo), int64(number), &gl.CreateMergeRequestNoteOptions{
		Body: gl.Ptr(body),
	}, gl.WithContext(ctx))
	return wrapErr("reply as note", resp, err)
}

func (c *Client) FindOpenPullRequestByHead(ctx context.Context, owner, repo, headBranch string) (*forge.PullRequest, error) {
	mrs, resp, err := c.api.MergeRequests.ListProjectMergeRequests(pid(owner, repo), &gl.ListProjectMergeRequestsOptions{
		State:        gl.Ptr("opened"),
		SourceBranch: gl.Ptr(headBranch),
		ListOptions:  gl.ListOptions{PerPage: 1},
	}, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("find merge request by source branch", resp, err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	full, resp, err := c.api.MergeRequests.GetMergeRequest(pid(owner, repo), mrs[0].IID, nil, gl.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch merge request", resp, err)
	}
	return convertMR(full), nil
}

func (c *Client) findDiscussionByNote(ctx context.Context, owner, repo string, number int, noteID int64) (string, error) {
	opt := &gl.ListMergeRequestDiscussionsOptions{ListOptions: gl.ListOptions{PerPage: perPage}}
	for {
		discussions, resp, err := c.api.Discussions.ListMergeRequestDiscussions(pid(owner, repo), int64(number), opt, gl.WithContext(ctx))
		if err != nil {
			return "", wrapErr("list discussions", resp, err)
		}
		for _, d := range discussions {
			for _, note := range d.Notes {
				if note.ID == noteID {
					return d.ID, nil
				}
			}
		}
		if resp.NextPage == 0 {
			return "", nil
		}
		opt.Page = resp.NextPage
	}
}

func convertMR(mr *gl.MergeRequest) *forge.PullRequest {
	state := mr.State
	if state == "opened" {
		state = "open"
	}
	return &forge.PullRequest{
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		State:      state,
		Draft:      mr.Draft,
		Author:     mr.Author.Username,
		Labels:     []string(mr.Labels),
		HeadBranch: mr.SourceBranch,
		HeadSHA:    mr.SHA,
		BaseBranch: mr.TargetBranch,
		BaseSHA:    mr.DiffRefs.BaseSha,
		URL:        mr.WebURL,
	}
}

func wrapErr(op string, resp *gl.Response, err error) error {
	if err == nil {
		return nil
	}
	code := errors.ErrCodeForgeTransport
	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			code = errors.ErrCodeForgeNotFound
		case http.StatusUnauthorized:
			code = errors.ErrCodeForgeAuth
		case http.StatusForbidden:
			if resp.Header.Get("RateLimit-Remaining") != "0" {
				code = errors.ErrCodeForgePermission
			}
		case http.StatusRequestEntityTooLarge:
			code = errors.ErrCodeForgeTooLarge
		}
	}
	return errors.Wrap(code, "gitlab: "+op, err)
}
