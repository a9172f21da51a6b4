package gitea

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/forge"
)

const prEventPayload = `{
  "action": "synchronized",
  "pull_request": {
    "number": 12,
    "title": "WIP: refactor storage",
    "body": "half done",
    "state": "open",
    "user": {"username": "carol"},
    "labels": [{"name": "wip"}],
    "head": {"ref": "refactor", "sha": "headsha"},
    "base": {"ref": "main", "sha": "basesha"},
    "html_url": "https://gitea.example.com/org/app/pulls/12"
  },
  "repository": {"name": "app", "owner": {"username": "org"}},
  "sender": {"username": "carol"}
}`

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestParsePullRequestWebhook(t *testing.T) {
	c := &Client{}
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(prEventPayload))
	r.Header.Set("X-Gitea-Event", "pull_request")
	r.Header.Set("X-Gitea-Signature", sign(prEventPayload, "s3cret"))

	ev, err := c.ParseWebhook(r, "s3cret")
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "gitea", ev.Provider)
	assert.Equal(t, forge.EventPullRequest, ev.Type)
	assert.Equal(t, "synchronize", ev.Action)
	assert.Equal(t, "org", ev.Owner)
	assert.Equal(t, "app", ev.Repo)

	require.NotNil(t, ev.PullRequest)
	assert.Equal(t, 12, ev.PullRequest.Number)
	assert.True(t, ev.PullRequest.Draft, "WIP title marks the PR draft")
	assert.Equal(t, "headsha", ev.PullRequest.HeadSHA)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	c := &Client{}
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(prEventPayload))
	r.Header.Set("X-Gitea-Event", "pull_request")
	r.Header.Set("X-Gitea-Signature", "deadbeef")

	_, err := c.ParseWebhook(r, "s3cret")
	assert.Error(t, err)
}

func TestParseCommentWebhook(t *testing.T) {
	payload := `{
	  "action": "created",
	  "issue": {"number": 12, "pull_request": {"merged": false}},
	  "comment": {"id": 44, "body": "@bot take a look", "user": {"username": "dave"}},
	  "repository": {"name": "app", "owner": {"username": "org"}}
	}`
	c := &Client{}
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	r.Header.Set("X-Gitea-Event", "issue_comment")

	ev, err := c.ParseWebhook(r, "")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, forge.EventComment, ev.Type)
	assert.Equal(t, int64(44), ev.CommentID)
	assert.Equal(t, 12, ev.PullRequest.Number)
}

func TestParseCommentWebhookSkipsPlainIssues(t *testing.T) {
	payload := `{
	  "action": "created",
	  "issue": {"number": 3},
	  "comment": {"id": 44, "body": "hi"},
	  "repository": {"name": "app", "owner": {"username": "org"}}
	}`
	c := &Client{}
	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	r.Header.Set("X-Gitea-Event", "issue_comment")

	ev, err := c.ParseWebhook(r, "")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestIsDraftTitle(t *testing.T) {
	assert.True(t, isDraftTitle("WIP: thing"))
	assert.True(t, isDraftTitle("[wip] thing"))
	assert.True(t, isDraftTitle("Draft: thing"))
	assert.False(t, isDraftTitle("Working on wip detection"))
}
