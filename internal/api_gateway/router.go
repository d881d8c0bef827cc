package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/settleline-recon-engine/internal/api_gateway/handler"
	"github.com/settleline-recon-engine/internal/api_gateway/middleware"
	"github.com/settleline-recon-engine/internal/platform/observability"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	metrics *observability.Metrics,
	reconHandler *handler.ReconHandler,
	exceptionHandler *handler.ExceptionHandler,
	adminHandler *handler.AdminHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())
	if metrics != nil {
		r.Use(middleware.Metrics(metrics))
	}

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Reconciliation runs and their outputs
		recon := v1.Group("/recon")
		{
			recon.POST("/run", reconHandler.TriggerRun)
			recon.GET("/jobs/:id", reconHandler.GetJob)
			recon.GET("/jobs/:id/summary", reconHandler.GetSummary)
			recon.GET("/jobs/:id/results", reconHandler.ListResults)
			recon.POST("/resolve", exceptionHandler.BulkResolve)
		}

		// Exception queue and lifecycle
		exceptions := v1.Group("/exceptions")
		{
			exceptions.GET("", exceptionHandler.List)
			exceptions.POST("/bulk-update", exceptionHandler.BulkUpdate)
			exceptions.GET("/:id", exceptionHandler.GetByID)
			exceptions.GET("/:id/audit", exceptionHandler.Audit)
			exceptions.POST("/:id/assign", exceptionHandler.Assign)
			exceptions.POST("/:id/investigate", exceptionHandler.Investigate)
			exceptions.POST("/:id/snooze", exceptionHandler.Snooze)
			exceptions.POST("/:id/escalate", exceptionHandler.Escalate)
			exceptions.POST("/:id/resolve", exceptionHandler.Resolve)
			exceptions.POST("/:id/reprocess", exceptionHandler.Reprocess)
		}

		// Operational configuration
		admin := v1.Group("/admin")
		{
			admin.POST("/templates", adminHandler.CreateTemplate)
			admin.GET("/templates/:acquirer", adminHandler.GetTemplate)
			admin.POST("/rules", adminHandler.CreateRule)
			admin.GET("/rules", adminHandler.ListRules)
		}

		v1.GET("/connectors/health", adminHandler.ConnectorsHealth)
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
