package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"laundry-display-sync/config"
	"laundry-display-sync/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger())

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Display state moves every second, so the cache only absorbs bursts.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 10*ttl), ttl)

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/devices", caching, h.ListDevices)
		api.GET("/devices/:id", caching, h.GetDevice)
		api.GET("/devices/:id/log", caching, h.GetDeviceLog)
		api.GET("/devices/:id/ws", h.StreamDevice)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
