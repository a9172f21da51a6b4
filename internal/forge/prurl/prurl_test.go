package prurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitHub(t *testing.T) {
	ref, err := NewParser().Parse("https://github.com/acme/api/pull/42")
	require.NoError(t, err)
	assert.Equal(t, "github", ref.Provider)
	assert.Equal(t, "acme", ref.Owner)
	assert.Equal(t, "api", ref.Repo)
	assert.Equal(t, 42, ref.Number)
}

func TestParseGitLab(t *testing.T) {
	ref, err := NewParser().Parse("https://gitlab.com/acme/api/-/merge_requests/7")
	require.NoError(t, err)
	assert.Equal(t, "gitlab", ref.Provider)
	assert.Equal(t, "acme", ref.Owner)
	assert.Equal(t, "api", ref.Repo)
	assert.Equal(t, 7, ref.Number)
}

func TestParseGitLabNestedGroup(t *testing.T) {
	ref, err := NewParser().Parse("https://gitlab.com/acme/platform/api/-/merge_requests/9")
	require.NoError(t, err)
	assert.Equal(t, "acme/platform", ref.Owner)
	assert.Equal(t, "api", ref.Repo)
	assert.Equal(t, 9, ref.Number)
}

func TestParseRegisteredGiteaHost(t *testing.T) {
	p := NewParser()
	p.RegisterHost("git.example.com", "gitea")

	ref, err := p.Parse("https://git.example.com/acme/api/pulls/3")
	require.NoError(t, err)
	assert.Equal(t, "gitea", ref.Provider)
	assert.Equal(t, "git.example.com", ref.Host)
	assert.Equal(t, 3, ref.Number)
}

func TestParseRejectsUnknownHost(t *testing.T) {
	_, err := NewParser().Parse("https://example.org/acme/api/pull/1")
	assert.Error(t, err)
}

func TestParseRejectsBadPaths(t *testing.T) {
	p := NewParser()
	for _, raw := range []string{
		"",
		"https://github.com/acme/api",
		"https://github.com/acme/api/pull/zero",
		"https://gitlab.com/acme/api/merge_requests/7",
	} {
		_, err := p.Parse(raw)
		assert.Error(t, err, raw)
	}
}
