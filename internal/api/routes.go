package api

import (
	"github.com/gin-gonic/gin"

	"github.com/saelay/trdpstack/internal/api/handlers"
	"github.com/saelay/trdpstack/internal/api/middleware"
	"github.com/saelay/trdpstack/internal/config"
)

// RegisterRoutes wires the endpoint tree.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)

	api.GET("/datasets", h.ListDatasets)
	api.GET("/datasets/:id", h.GetDataset)
	api.PUT("/datasets/:id", h.PutDataset)
	api.DELETE("/datasets/:id", h.DeleteDataset)

	api.GET("/comids", h.ListBindings)
	api.POST("/comids", h.PutBinding)
}
