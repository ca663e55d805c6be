package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter sets up the operator API. gatherer backs /metrics.
func NewRouter(h *TreeHandler, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.POST("/workers", h.SpawnWorker)
		api.DELETE("/workers/:id", h.RemoveWorker)
		api.GET("/workers/:id/status", h.Status)
		api.POST("/workers/:id/jobs", h.RunJob)
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:job_id", h.GetJob)
		api.GET("/topology", h.Topology)
		api.POST("/heartbeat", h.ToggleHeartbeat)
	}

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}
