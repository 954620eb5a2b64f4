package router

import (
	"net/http"

	"github.com/blogsmith/blogsmith/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Liveness: the process is up.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "blogsmith-api",
		})
	})

	// Readiness: the backends answer.
	r.GET("/ready", func(c *gin.Context) {
		storageOK := deps.Storage.HealthCheck(c.Request.Context())
		queueOK := deps.Queue.HealthCheck(c.Request.Context())

		status := http.StatusOK
		if !storageOK || !queueOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"storage": storageOK,
			"queue":   queueOK,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	postHandler := handler.NewPostHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.SubmitJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/history", jobHandler.GetJobHistory)
			jobs.GET("/by-correlation/:correlation_id", jobHandler.GetJobByCorrelationID)
		}

		posts := v1.Group("/posts")
		{
			posts.GET("", postHandler.ListPosts)
			posts.GET("/:post_id", postHandler.GetPost)
			posts.GET("/:post_id/preview", postHandler.PreviewPost)
			posts.PATCH("/:post_id", postHandler.UpdatePost)
			posts.DELETE("/:post_id", postHandler.DeletePost)
			posts.GET("/:post_id/history", postHandler.GetPostHistory)
			posts.POST("/:post_id/approve", postHandler.ApprovePost)
			posts.POST("/:post_id/reject", postHandler.RejectPost)
			posts.POST("/:post_id/request-revision", postHandler.RequestRevision)
			posts.POST("/:post_id/publish", postHandler.PublishPost)
		}

		v1.GET("/stats", postHandler.GetStats)
	}

	return r
}
