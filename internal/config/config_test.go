package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultHost, cfg.Server.Host)
	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.Equal(t, defaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, defaultReposDir, cfg.Workspace.ReposDir)
	assert.Equal(t, "static", cfg.Embedding.Backend)
	assert.Equal(t, defaultEmbedBatchSize, cfg.Embedding.BatchSize)
	assert.Equal(t, defaultStageTimeout, cfg.Stages.TimeoutSeconds)
	assert.Equal(t, defaultReviewWorkers, cfg.Workers.Review)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
providers:
  - type: github
    token: ghp_test
embedding:
  backend: genai
  api_key: key123
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "github", cfg.Providers[0].Type)
	assert.Equal(t, "genai", cfg.Embedding.Backend)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - type: gitlab
    token: from-file
`), 0o644))

	t.Setenv("GREPIKU_GITLAB_TOKEN", "from-env")
	t.Setenv("GREPIKU_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Providers[0].Token)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - type: sourcehut
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
