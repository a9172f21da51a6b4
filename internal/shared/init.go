// Package shared provides common initialization utilities used by both the
// serve and one-shot CLI paths.
package shared

import (
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/consts"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"

	// Provider clients register themselves on import.
	_ "github.com/grepiku/grepiku/internal/forge/gitea"
	_ "github.com/grepiku/grepiku/internal/forge/github"
	_ "github.com/grepiku/grepiku/internal/forge/gitlab"
)

// InitForges builds forge clients from configuration, keyed by provider
// type. A provider that fails to initialize is skipped with a warning so a
// bad gitea token does not take the github integration down with it.
func InitForges(cfg *config.Config) map[string]forge.Client {
	clients := make(map[string]forge.Client)

	for _, pc := range cfg.Providers {
		botLogin := pc.BotLogin
		if botLogin == "" {
			botLogin = consts.DefaultBotLogin
		}
		opts := &forge.Options{
			Token:              pc.Token,
			BaseURL:            pc.URL,
			BotLogin:           botLogin,
			InsecureSkipVerify: pc.InsecureSkipVerify,
			AppID:              pc.AppID,
			AppPrivateKey:      pc.AppPrivateKey,
			InstallationID:     pc.InstallationID,
		}

		client, err := forge.New(pc.Type, opts)
		if err != nil {
			logger.Warn("Failed to create forge client",
				zap.String("type", pc.Type),
				zap.Error(err),
			)
			continue
		}
		clients[pc.Type] = client
		logger.Info("Initialized forge client",
			zap.String("type", pc.Type),
			zap.String("url", pc.URL),
			zap.Bool("app_auth", pc.AppID != 0),
		)
	}

	if len(clients) == 0 {
		logger.Warn("No forge providers configured")
	}

	return clients
}

// Resolver wraps a client map into the lookup function the review and
// scheduling paths use.
func Resolver(clients map[string]forge.Client) func(provider string) (forge.Client, error) {
	return func(provider string) (forge.Client, error) {
		client, ok := clients[provider]
		if !ok {
			return nil, errors.New(errors.ErrCodeValidation, "no client for provider: "+provider)
		}
		return client, nil
	}
}
