package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JushBJJ/Wormhole/common/ratelimit"
	"github.com/JushBJJ/Wormhole/internal/http/handler"
	"github.com/JushBJJ/Wormhole/internal/http/middleware"
	"github.com/JushBJJ/Wormhole/internal/metrics"
)

type RouterConfig struct {
	BridgeAPIKey string
	IngestRPS    float64
	IngestBurst  int
}

type Handlers struct {
	Messages   *handler.MessageHandler
	Categories *handler.CategoryHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		CategoryRouter(v1.Group("/categories"), h.Categories)

		ingest := v1.Group("")
		ingest.Use(middleware.RequireAPIKey(cfg.BridgeAPIKey))
		ingest.Use(middleware.RateLimit(ratelimit.NewPool(cfg.IngestRPS, cfg.IngestBurst)))
		MessageRouter(ingest, h.Messages)
	}
}
