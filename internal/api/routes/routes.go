package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vigilguard/vigil/internal/api/handlers"
	"github.com/vigilguard/vigil/internal/api/middleware"
	"github.com/vigilguard/vigil/internal/config"
	"github.com/vigilguard/vigil/internal/services"
)

// Register wires middleware, the admin API and the metrics endpoint onto
// the router.
func Register(router *gin.Engine, registry *services.Registry, cfg config.Config, promRegistry *prometheus.Registry) {
	router.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery(cfg.Debug))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	security := handlers.NewSecurityHandler(registry)
	auth := handlers.NewAuthHandler(cfg.AdminPasswordHash, cfg.JWTSecret)

	api := router.Group("/api/v1")
	api.GET("/health", handlers.Health)
	api.POST("/auth/login", auth.Login)

	protected := api.Group("", middleware.RequireAuth(cfg.JWTSecret))
	protected.GET("/check", security.Check)
	protected.GET("/events", security.ListEvents)
	protected.GET("/lists", security.ListEntries)
	protected.POST("/lists/block", security.Block)
	protected.POST("/lists/unblock", security.Unblock)
	protected.POST("/lists/whitelist", security.Whitelist)
	protected.GET("/stats", security.Stats)
	protected.GET("/notifications", security.ListNotifications)
	protected.POST("/notifications/read", security.MarkNotificationsRead)
}
