package handler

import (
	"context"
	"net/http"

	"github.com/animora/animora/internal/identity"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig collects everything NewRouter mounts.
type RouterConfig struct {
	Auth         *AuthHandler
	Tokens       *identity.UserTokenIssuer
	Ready        gin.HandlerFunc // nil serves an unconditional 200
	CORSOrigins  []string        // empty disables CORS
	RateLimitRPS int             // 0 disables rate limiting
	Logger       *zap.Logger
}

// NewRouter builds the HTTP router: middleware chain, infra routes and the
// /api/auth group. ctx bounds the rate limiter's background sweeper.
func NewRouter(ctx context.Context, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		router.Use(CORS(cfg.CORSOrigins))
	}
	router.Use(SecurityHeaders())
	router.Use(BodyLimit())
	router.Use(PrometheusMiddleware())
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	router.Use(RequestLogger(cfg.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	ready := cfg.Ready
	if ready == nil {
		ready = func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		}
	}
	router.GET("/readyz", ready)
	router.GET("/metrics", MetricsHandler())
	router.GET("/.well-known/jwks.json", identity.JWKSHandler(cfg.Tokens))

	api := router.Group("/api")
	cfg.Auth.Register(api)

	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Route not found")
	})
	return router
}
