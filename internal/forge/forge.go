// Package forge defines the client contract for source-forge providers.
// GitHub, GitLab, and Gitea adapters implement this interface; the review
// orchestrator and scheduler consume it without knowing which forge is
// behind a repository.
package forge

import (
	"context"
	"net/http"
	"strings"

	"github.com/grepiku/grepiku/pkg/errors"
)

// Event types for normalized webhook events.
const (
	EventPullRequest = "pull_request"
	EventComment     = "comment"
	EventReaction    = "reaction"
)

// Status check states and conclusions.
const (
	CheckInProgress = "in_progress"
	CheckCompleted  = "completed"

	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
	ConclusionNeutral = "neutral"
)

// PullRequest is the provider-neutral view of a pull/merge request.
type PullRequest struct {
	Number     int      `json:"number"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	State      string   `json:"state"` // open, closed, merged
	Draft      bool     `json:"draft"`
	Author     string   `json:"author"`
	Labels     []string `json:"labels"`
	HeadBranch string   `json:"head_branch"`
	HeadSHA    string   `json:"head_sha"`
	BaseBranch string   `json:"base_branch"`
	BaseSHA    string   `json:"base_sha"`
	URL        string   `json:"url"`
}

// Commit is a single commit's metadata.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// ChangedFile is one file of a pull request's diff.
type ChangedFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"` // added, modified, removed, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Comment is an issue-level (summary) comment.
type Comment struct {
	ID     int64  `json:"id"`
	Body   string `json:"body"`
	Author string `json:"author"`
	URL    string `json:"url"`
}

// InlineComment is a review comment anchored to a diff position.
type InlineComment struct {
	ID        int64  `json:"id"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Side      string `json:"side"`
	Body      string `json:"body"`
	Author    string `json:"author"`
	InReplyTo int64  `json:"in_reply_to"`
	URL       string `json:"url"`
}

// InlineCommentRequest describes a new inline comment.
type InlineCommentRequest struct {
	Path string
	Line int
	Side string
	Body string
}

// Event is the normalized webhook event handed to the scheduler.
type Event struct {
	Provider       string       `json:"provider"`
	Type           string       `json:"type"` // pull_request, comment, reaction
	Action         string       `json:"action"`
	Owner          string       `json:"owner"`
	Repo           string       `json:"repo"`
	InstallationID int64        `json:"installation_id,omitempty"`
	Author         string       `json:"author"`
	PullRequest    *PullRequest `json:"pull_request,omitempty"`
	CommentID      int64        `json:"comment_id,omitempty"`
	CommentBody    string       `json:"comment_body,omitempty"`
	InReplyTo      int64        `json:"in_reply_to,omitempty"`
	Reaction       string       `json:"reaction,omitempty"`
}

// Client is the forge adapter the orchestrator and scheduler consume. Every
// operation is atomic from the caller's perspective; partial failures return
// an error and the queue retries the whole job.
type Client interface {
	// Name returns the provider type (github, gitlab, gitea).
	Name() string
	// Token returns a token usable for authenticated git fetches.
	Token(ctx context.Context) (string, error)
	// BotLogin returns the account the client posts as.
	BotLogin() string

	FetchPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	FetchCommit(ctx context.Context, owner, repo, sha string) (*Commit, error)
	// FetchDiffPatch returns the unified diff of the pull request.
	FetchDiffPatch(ctx context.Context, owner, repo string, number int) (string, error)
	ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]ChangedFile, error)

	UpdatePullRequestBody(ctx context.Context, owner, repo string, number int, body string) error
	CreateSummaryComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error)
	UpdateSummaryComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error
	CreateInlineComment(ctx context.Context, owner, repo string, number int, headSHA string, req InlineCommentRequest) (*InlineComment, error)
	ListInlineComments(ctx context.Context, owner, repo string, number int) ([]InlineComment, error)
	UpdateInlineComment(ctx context.Context, owner, repo string, commentID int64, number int, body string) error
	// ResolveInlineThread marks the thread holding commentID resolved.
	// Best-effort; providers without thread resolution return nil.
	ResolveInlineThread(ctx context.Context, owner, repo string, number int, commentID int64) error

	CreateStatusCheck(ctx context.Context, owner, repo, sha, name string) (int64, error)
	UpdateStatusCheck(ctx context.Context, owner, repo string, checkID int64, sha, name, conclusion, summary string) error

	// AddReaction is best-effort acknowledgement on a comment.
	AddReaction(ctx context.Context, owner, repo string, commentID int64, number int, content string) error
	ReplyToComment(ctx context.Context, owner, repo string, number int, commentID int64, body string) error

	FindOpenPullRequestByHead(ctx context.Context, owner, repo, headBranch string) (*PullRequest, error)

	// ParseWebhook verifies the request signature and normalizes the payload.
	// Events the service does not consume return (nil, nil).
	ParseWebhook(r *http.Request, secret string) (*Event, error)
}

// Options configures a provider client.
type Options struct {
	Token    string
	BaseURL  string
	BotLogin string
	// InsecureSkipVerify disables TLS verification for self-hosted
	// instances with self-signed certificates.
	InsecureSkipVerify bool

	AppID          int64
	AppPrivateKey  string
	InstallationID int64
}

// Factory builds a provider client.
type Factory func(opts *Options) (Client, error)

var registry = make(map[string]Factory)

// Register adds a provider factory. Called from provider package init.
func Register(name string, f Factory) {
	registry[name] = f
}

// New creates a client for the named provider type.
func New(name string, opts *Options) (Client, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeValidation, "unknown forge provider: "+name)
	}
	return f(opts)
}

// IsTooLarge reports whether the error looks like the forge refusing to
// serve a diff because of its size; the caller falls back to a local diff.
func IsTooLarge(err error) bool {
	return errors.HasCode(err, errors.ErrCodeForgeTooLarge)
}

// IsPermission reports whether the error is an integration-level permission
// failure. Rate-limit 403s are deliberately excluded: when a 403 cannot be
// told apart from throttling it is treated as transport, not permission.
func IsPermission(err error) bool {
	return errors.HasCode(err, errors.ErrCodeForgePermission)
}

// BotAuthored reports whether a comment author is the bot account, tolerant
// of the "[bot]" suffix some forges append.
func BotAuthored(author, botLogin string) bool {
	if botLogin == "" {
		return false
	}
	a := strings.ToLower(strings.TrimSuffix(author, "[bot]"))
	b := strings.ToLower(strings.TrimSuffix(botLogin, "[bot]"))
	return a == b
}
