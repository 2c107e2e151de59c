// Package router provides memory service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/memhub/internal/memhub/handler"
)

// Register registers the memory service routes.
func Register(engine *gin.Engine, memHandler *handler.MemoryHandler) {
	logger.Info("Registering memory routes...")

	engine.GET("/healthz", memHandler.Healthz)

	v1 := engine.Group("/v1")
	{
		memory := v1.Group("/memory")
		{
			memory.POST("/query", memHandler.Query)
			memory.POST("/upload", memHandler.Upload)
			memory.GET("/stats", memHandler.Stats)
		}
	}

	logger.Info("HTTP routes registered")
}
