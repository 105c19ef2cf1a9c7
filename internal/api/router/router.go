package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/tile-allocator/internal/api/handler"
	"github.com/cuongbtq/tile-allocator/internal/metrics"
)

// healthTimeout bounds the database ping behind /health
const healthTimeout = 2 * time.Second

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options carries the router's optional collaborators
type Options struct {
	ServiceName string
	Health      HealthChecker
	Metrics     *metrics.Metrics
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	if opts.Metrics != nil {
		r.Use(MetricsMiddleware(opts.Metrics))
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "tile-api-service"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()

			if err := opts.Health.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": serviceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	userHandler := handler.NewUserHandler(deps)

	// POST /upload-csv - Ingest a CSV file as a new job sheet
	r.POST("/upload-csv", jobHandler.UploadCSV)

	// GET /job-sheets - List job sheets, newest first
	r.GET("/job-sheets", jobHandler.ListJobSheets)

	// GET /search-users?q= - Search users by name
	r.GET("/search-users", userHandler.SearchUsers)

	// GET /available-tiles/:sheetId - Unassigned job counts per tile
	r.GET("/available-tiles/:sheetId", jobHandler.AvailableTiles)

	// POST /allocate-job - Assign a tile to a user
	r.POST("/allocate-job", jobHandler.AllocateJob)

	return r
}
