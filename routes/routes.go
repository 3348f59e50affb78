package routes

import (
	"time"

	"github.com/lakhoreJanvi/product-importer-project/common/middleware"
	"github.com/lakhoreJanvi/product-importer-project/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires every HTTP endpoint. The event stream is kept out
// of the request timeout since it lives as long as the import.
func RegisterRoutes(
	r *gin.Engine,
	uploads *controllers.UploadController,
	imports *controllers.ImportController,
	health *controllers.HealthController,
	limiter *middleware.RateLimiter,
	requestTimeout time.Duration,
) {
	r.GET("/health", health.Health)

	uploadRoutes := r.Group("/upload", middleware.Timeout(requestTimeout))
	if limiter != nil {
		uploadRoutes.Use(limiter.Middleware())
	}
	{
		uploadRoutes.POST("/chunk", uploads.UploadChunk)
		uploadRoutes.POST("/finalize", uploads.Finalize)
	}

	importRoutes := r.Group("/imports", middleware.Timeout(requestTimeout))
	{
		importRoutes.GET("/:id", imports.GetJob)
	}

	r.GET("/events/import/:id", imports.StreamProgress)
}
