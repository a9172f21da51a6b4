// Package router wires the API routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grepiku/grepiku/internal/api/handler"
	"github.com/grepiku/grepiku/internal/api/middleware"
	"github.com/grepiku/grepiku/internal/config"
	"github.com/grepiku/grepiku/internal/review"
	"github.com/grepiku/grepiku/internal/store"
)

// Deps carries everything the routes need.
type Deps struct {
	Cfg    *config.Config
	Store  *store.Store
	Forges review.ForgeResolver
	Sink   handler.EventSink
	Jobs   handler.Enqueuer
}

// Setup registers middleware and routes on the gin engine.
func Setup(r *gin.Engine, deps Deps) {
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(&middleware.LoggerConfig{AccessLog: deps.Cfg.Server.Debug}))
	r.Use(middleware.ErrorHandler(deps.Cfg.Server.Debug))

	health := handler.NewHealthHandler(deps.Store)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	if deps.Cfg.Metrics.Enabled {
		path := deps.Cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(promhttp.Handler()))
	}

	webhooks := handler.NewWebhookHandler(deps.Cfg, deps.Forges, deps.Sink)
	r.POST("/webhooks/:provider", webhooks.HandleWebhook)

	reviews := handler.NewReviewHandler(deps.Store, deps.Jobs)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/runs/:id", reviews.GetRun)
		v1.GET("/pulls/:id/findings", reviews.ListFindings)
		v1.POST("/reviews", reviews.TriggerReview)
	}
}
