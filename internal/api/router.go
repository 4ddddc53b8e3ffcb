// Package api exposes the custom-domain service over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wick3d/customdomains/internal/health"
)

// RouterConfig wires handlers into a gin engine.
type RouterConfig struct {
	Domains     *DomainHandler
	Reconcile   *ReconcileHandler
	Audit       *AuditHandler
	CORSOrigins []string
	Logger      *zap.Logger

	// RateLimitRPS enables per-IP rate limiting on /api/v1 when positive.
	RateLimitRPS int
	// Ready reports whether the service can take traffic; nil means always.
	Ready func() bool
	// Dependencies lists probed dependencies in /healthz when set.
	Dependencies func() []health.Status
}

// NewRouter builds the HTTP handler: health, metrics and /api/v1.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
			ExposeHeaders:    []string{"Content-Length", requestIDHeader},
			AllowCredentials: !containsWildcard(cfg.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(bodyLimit(1 << 20))
	router.Use(PrometheusMiddleware())
	router.Use(requestLogger(cfg.Logger))

	router.GET("/healthz", func(c *gin.Context) {
		code, body := http.StatusOK, gin.H{"status": "ok"}
		if cfg.Ready != nil && !cfg.Ready() {
			code, body = http.StatusServiceUnavailable, gin.H{"status": "unavailable"}
		}
		if cfg.Dependencies != nil {
			body["dependencies"] = cfg.Dependencies()
		}
		c.JSON(code, body)
	})
	router.GET("/metrics", MetricsHandler())

	v1 := router.Group("/api/v1")
	if cfg.RateLimitRPS > 0 {
		v1.Use(rateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}
	if cfg.Domains != nil {
		cfg.Domains.Register(v1)
	}
	if cfg.Reconcile != nil {
		cfg.Reconcile.Register(v1)
	}
	if cfg.Audit != nil {
		cfg.Audit.Register(v1)
	}
	return router
}
