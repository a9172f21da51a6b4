package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/pkg/logger"
)

func init() {
	logger.Init(logger.Config{Level: "error", Format: "text"})
}

func TestInitForges(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Type: "github", Token: "ghp_test"},
			{Type: "gitea", URL: "https://git.example.com", Token: "gta_test"},
		},
	}

	clients := InitForges(cfg)
	require.Len(t, clients, 2)
	assert.Equal(t, "github", clients["github"].Name())
	assert.Equal(t, "gitea", clients["gitea"].Name())
}

func TestInitForgesSkipsBroken(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{Type: "github", Token: "ghp_test"},
			{Type: "gitea"}, // missing base_url and token
			{Type: "not-a-forge", Token: "x"},
		},
	}

	clients := InitForges(cfg)
	require.Len(t, clients, 1)
	assert.Contains(t, clients, "github")
}

func TestInitForgesEmpty(t *testing.T) {
	clients := InitForges(&config.Config{})
	assert.Empty(t, clients)
}

func TestResolver(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{{Type: "github", Token: "ghp_test"}},
	}
	resolve := Resolver(InitForges(cfg))

	client, err := resolve("github")
	require.NoError(t, err)
	assert.Equal(t, "github", client.Name())

	_, err = resolve("gitlab")
	assert.Error(t, err)
}
