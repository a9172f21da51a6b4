// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/forge"
	"github.com/grepiku/grepiku/internal/review"
	pkgerrors "github.com/grepiku/grepiku/pkg/errors"
	"github.com/grepiku/grepiku/pkg/logger"
)

// EventSink consumes normalized webhook events.
type EventSink interface {
	HandleEvent(ctx context.Context, event *forge.Event) error
}

// WebhookHandler receives forge webhooks and hands them to the scheduler.
type WebhookHandler struct {
	cfg    *config.Config
	forges review.ForgeResolver
	sink   EventSink
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(cfg *config.Config, forges review.ForgeResolver, sink EventSink) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, forges: forges, sink: sink}
}

// HandleWebhook handles POST /webhooks/:provider. The forge is answered as
// soon as the event is parsed; scheduling happens before the response only
// because enqueueing is cheap and keeps ordering obvious.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	providerName := c.Param("provider")

	client, err := h.forges(providerName)
	if err != nil {
		logger.Warn("Unknown webhook provider", zap.String("provider", providerName))
		c.JSON(http.StatusNotFound, gin.H{
			"code":    pkgerrors.ErrCodeValidation,
			"message": "Unknown provider: " + providerName,
		})
		return
	}

	secret := h.webhookSecret(providerName)
	if secret == "" {
		logger.Warn("Webhook secret not configured, signature validation skipped",
			zap.String("provider", providerName))
	}

	event, err := client.ParseWebhook(c.Request, secret)
	if err != nil {
		logger.Warn("Failed to parse webhook",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pkgerrors.ErrCodeForgeTransport,
			"message": "Failed to parse webhook: " + err.Error(),
		})
		return
	}
	if event == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Event received but not processed"})
		return
	}

	logger.Info("Webhook received",
		zap.String("provider", providerName),
		zap.String("type", event.Type),
		zap.String("action", event.Action),
		zap.String("repo", event.Owner+"/"+event.Repo),
		zap.String("sender", event.Author),
	)

	if err := h.sink.HandleEvent(c.Request.Context(), event); err != nil {
		logger.Error("Webhook handling failed",
			zap.String("provider", providerName),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		// The forge retries on 5xx; scheduling is idempotent so that is safe.
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    pkgerrors.ErrCodeInternal,
			"message": "Failed to schedule event",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "accepted", "type": event.Type})
}

func (h *WebhookHandler) webhookSecret(providerName string) string {
	for _, p := range h.cfg.Providers {
		if p.Type == providerName {
			return p.WebhookSecret
		}
	}
	return ""
}
