// Package router wires the submission and query API's routes to their
// handlers and the shared middleware stack.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/streamrelay/transcoder/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes.
func SetupRouter(deps *handler.Dependencies, apiKey string) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)

	authorized := r.Group("/")
	authorized.Use(AuthMiddleware(apiKey))
	{
		authorized.POST("/transcode", jobHandler.Submit)
		authorized.GET("/job/:id", jobHandler.GetJob)
		authorized.DELETE("/job/:id", jobHandler.CancelJob)
		authorized.POST("/job/:id/retry", jobHandler.RetryJob)
		authorized.GET("/jobs", jobHandler.ListJobs)
		authorized.GET("/queue/stats", jobHandler.QueueStats)
		authorized.GET("/queue/status", jobHandler.QueueStatus)
		authorized.POST("/queue/pause", jobHandler.PauseQueue)
		authorized.POST("/queue/resume", jobHandler.ResumeQueue)
	}

	return r
}
