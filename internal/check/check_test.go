package check

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(root, "db", "grepiku.db")},
		Workspace: config.WorkspaceConfig{
			ReposDir:   filepath.Join(root, "repos"),
			BundlesDir: filepath.Join(root, "bundles"),
		},
		Providers: []config.Provider{
			{Type: "github", Token: "ghp_test", WebhookSecret: "s"},
		},
		Stages: config.StagesConfig{Command: "git"}, // always on PATH in CI
	}
}

func TestRunHealthy(t *testing.T) {
	result := New(testConfig(t)).Run()
	require.True(t, result.Success)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestMissingStageRunnerWarns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stages.Command = "definitely-not-installed-anywhere"

	result := New(cfg).Run()
	assert.True(t, result.Success)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "definitely-not-installed-anywhere")
}

func TestNoProvidersWarns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = nil

	result := New(cfg).Run()
	assert.True(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "No forge providers")
}

func TestMissingCredentialsWarn(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers = []config.Provider{{Type: "gitlab"}}

	result := New(cfg).Run()
	assert.True(t, result.Success)
	assert.Len(t, result.Warnings, 2) // no secret, no token
}

func TestWorkspaceCreated(t *testing.T) {
	cfg := testConfig(t)
	result := New(cfg).Run()
	require.True(t, result.Success)

	assert.DirExists(t, cfg.Workspace.ReposDir)
	assert.DirExists(t, cfg.Workspace.BundlesDir)
}
