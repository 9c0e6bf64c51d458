package main

import (
	"database/sql"
	"net/http"
	"time"

	"call-signaling/internal/httpapi"
	"call-signaling/internal/notify"
	"call-signaling/internal/webhooks"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth     gin.HandlerFunc
	Limit    gin.HandlerFunc
	Calls    httpapi.Handlers
	Webhooks webhooks.Handler
	Events   notify.WSHandler
	DB       *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.DB != nil {
			if err := utils.HealthCheck(c.Request.Context(), d.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Room provider webhooks. Authenticated by HMAC signature, not bearer token.
	r.POST("/webhook", d.Webhooks.Handle)

	api := r.Group("/")
	api.Use(d.Auth)
	{
		// Create and token are rate limited per user. End is the idempotent
		// cleanup path for reject, timeout and hangup, so it is never throttled.
		api.POST("/create", d.Limit, d.Calls.CreateSession)
		api.POST("/token", d.Limit, d.Calls.IssueToken)
		api.POST("/end/:session_id", d.Calls.EndSession)

		api.GET("/session/:session_id", d.Calls.GetSession)
		api.GET("/sessions", d.Calls.ListSessions)

		api.GET("/events", d.Events.Handle)
	}
}
