package api

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"factory-dashboard-backend/config"
	"factory-dashboard-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(log), mw.CORS())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Short TTL: dashboards poll and every write flushes anyway.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 10*time.Minute)
	caching := mw.Cache(cacheStore, ttl)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Websocket upgrades must not sit behind gzip or the body cache.
		api.GET("/ws", h.ServeWS)
		api.GET("/health", h.Health)
	}

	views := api.Group("", gzip.Gzip(gzip.DefaultCompression), caching)
	{
		views.GET("/machines", h.ListMachines)
		views.POST("/machines", h.RegisterMachine)
		views.GET("/machines/:name/timeline", h.GetTimeline)
		views.GET("/machines/:name/shift", h.GetShift)
		views.GET("/machines/:name/dates", h.GetDates)
		views.GET("/machines/:name/report", h.GetReport)
		views.GET("/overview", h.GetOverview)

		views.GET("/logs", h.ListLogs)
		views.POST("/logs", h.InsertLog)

		views.POST("/machine-timeout-check", h.CheckTimeouts)
	}

	push := api.Group("", gzip.Gzip(gzip.DefaultCompression))
	{
		push.GET("/subscriptions", h.GetSubscription)
		push.PUT("/subscriptions", h.PutSubscription)
		push.DELETE("/subscriptions", h.DeleteSubscription)
		push.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
