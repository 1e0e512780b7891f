package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/rtclinic/followup/internal/config"
	"github.com/rtclinic/followup/internal/domain/followup"
	"github.com/rtclinic/followup/internal/platform/auth"
	"github.com/rtclinic/followup/internal/platform/db"
	"github.com/rtclinic/followup/internal/platform/middleware"
	"github.com/rtclinic/followup/internal/platform/reporting"
	"github.com/rtclinic/followup/internal/platform/telemetry"
)

const version = "0.1.0"

// newServer wires middleware and routes. pinger and recorder are nil unless
// the store is backed by Postgres.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *followup.Service, pinger db.Pinger, recorder middleware.AuditRecorder, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.AuthEnabled() {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		e.Use(auth.DevAuthMiddleware())
	}

	// Audit middleware
	e.Use(middleware.Audit(logger, recorder))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler())
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond:      cfg.RateLimitRPS,
		BurstSize:              cfg.RateLimitBurst,
		WriteRequestsPerSecond: cfg.RateLimitWriteRPS,
		WriteBurstSize:         cfg.RateLimitWriteBurst,
	}))

	followup.NewHandler(svc).RegisterRoutes(apiV1)
	reporting.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}
