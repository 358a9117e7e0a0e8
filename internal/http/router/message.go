package router

import (
	"github.com/gin-gonic/gin"

	"github.com/JushBJJ/Wormhole/internal/http/handler"
)

func MessageRouter(rg *gin.RouterGroup, h *handler.MessageHandler) {
	rg.POST("/messages", h.Post)
	rg.POST("/envelopes", h.PostEnvelope)
}

func CategoryRouter(rg *gin.RouterGroup, h *handler.CategoryHandler) {
	rg.GET("", h.List)
}
