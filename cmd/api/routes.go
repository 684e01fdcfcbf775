package main

import (
	"context"
	"net/http"

	"diagnostics-proxy/internal/httpapi"
	"diagnostics-proxy/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers pass through the pipeline.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, ready func(context.Context) error) {
	r.Use(metrics.Middleware())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.POST("/query", h.Query)
		v1.GET("/audit", h.AuditLog)

		v1.GET("/rooms", h.Rooms)
		v1.GET("/rooms/:room_id/threads", h.Threads)

		v1.GET("/views", h.ListViews)
		v1.PUT("/views/:name", h.SaveView)
		v1.DELETE("/views/:name", h.DeleteView)

		v1.POST("/actions", h.RowAction)
	}
}
