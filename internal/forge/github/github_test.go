package github

import (
	"net/http"
	"testing"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/pkg/errors"
)

func TestSplitFullName(t *testing.T) {
	owner, repo := splitFullName("octocat/hello-world")
	assert.Equal(t, "octocat", owner)
	assert.Equal(t, "hello-world", repo)

	owner, repo = splitFullName("justaname")
	assert.Equal(t, "justaname", owner)
	assert.Empty(t, repo)
}

func ghResponse(status int, header http.Header) *gh.Response {
	if header == nil {
		header = http.Header{}
	}
	return &gh.Response{Response: &http.Response{StatusCode: status, Header: header}}
}

func TestWrapErrClassification(t *testing.T) {
	base := assert.AnError

	err := wrapErr("op", ghResponse(http.StatusNotFound, nil), base)
	assert.True(t, errors.HasCode(err, errors.ErrCodeForgeNotFound))

	err = wrapErr("op", ghResponse(http.StatusUnauthorized, nil), base)
	assert.True(t, errors.HasCode(err, errors.ErrCodeForgeAuth))

	// A 403 with rate-limit budget left is a genuine permission failure.
	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "4999")
	err = wrapErr("op", ghResponse(http.StatusForbidden, header), base)
	assert.True(t, errors.HasCode(err, errors.ErrCodeForgePermission))

	// An exhausted rate limit stays a transport error.
	header = http.Header{}
	header.Set("X-RateLimit-Remaining", "0")
	err = wrapErr("op", ghResponse(http.StatusForbidden, header), base)
	assert.True(t, errors.HasCode(err, errors.ErrCodeForgeTransport))

	err = wrapErr("op", ghResponse(http.StatusNotAcceptable, nil), base)
	assert.True(t, errors.HasCode(err, errors.ErrCodeForgeTooLarge))

	require.NoError(t, wrapErr("op", nil, nil))
}

func TestConvertPR(t *testing.T) {
	pr := &gh.PullRequest{
		Number: gh.Int(5),
		Title:  gh.String("Fix race"),
		State:  gh.String("closed"),
		Merged: gh.Bool(true),
		Draft:  gh.Bool(false),
		User:   &gh.User{Login: gh.String("octocat")},
		Labels: []*gh.Label{{Name: gh.String("bug")}},
		Head:   &gh.PullRequestBranch{Ref: gh.String("fix"), SHA: gh.String("headsha")},
		Base:   &gh.PullRequestBranch{Ref: gh.String("main"), SHA: gh.String("basesha")},
	}
	out := convertPR(pr)
	assert.Equal(t, 5, out.Number)
	assert.Equal(t, "merged", out.State)
	assert.Equal(t, []string{"bug"}, out.Labels)
	assert.Equal(t, "headsha", out.HeadSHA)
}
