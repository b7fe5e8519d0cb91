package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/app"
	"github.com/glotta/registrar/internal/handlers"
	"github.com/glotta/registrar/internal/middleware"
	"github.com/glotta/registrar/internal/services"
)

// Services bundles the domain services the router exposes over HTTP.
type Services struct {
	EmailStatus  *services.EmailStatusService
	Provisioning *services.ProvisioningService
	Cleanup      *services.CleanupService
	Orphan       *services.OrphanService
	Audit        *services.AuditService
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
//
// Three public routes carry the registration flow (email status probe and
// the two-step cleanup exchange); provisioning and orphan detection require
// a provider-issued bearer token.
func NewRouter(db *gorm.DB, cfg *app.Config, svcs Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svcs.EmailStatus == nil || svcs.Provisioning == nil || svcs.Cleanup == nil || svcs.Orphan == nil || svcs.Audit == nil {
		return nil, fmt.Errorf("all domain services must be provided")
	}

	r := gin.New()

	// Global middleware. The in-memory limiter here is an abuse backstop;
	// the tiered quotas live in the services and return structured 429s.
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(middleware.Correlation())
	r.Use(middleware.RateLimit(100, time.Minute))

	// Health endpoint (public)
	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	emailStatusHandler, err := handlers.NewEmailStatusHandler(svcs.EmailStatus)
	if err != nil {
		return nil, err
	}
	cleanupHandler, err := handlers.NewCleanupHandler(svcs.Cleanup)
	if err != nil {
		return nil, err
	}
	provisioningHandler, err := handlers.NewProvisioningHandler(svcs.Provisioning)
	if err != nil {
		return nil, err
	}
	orphanHandler, err := handlers.NewOrphanHandler(svcs.Orphan)
	if err != nil {
		return nil, err
	}
	auditHandler, err := handlers.NewAuditHandler(svcs.Audit)
	if err != nil {
		return nil, err
	}

	v1 := r.Group("/api/v1")

	// Public routes: callers are not authenticated yet by definition.
	v1.POST("/email-status", emailStatusHandler.Check)
	v1.GET("/email-status", emailStatusHandler.Liveness)
	v1.HEAD("/email-status", emailStatusHandler.Liveness)

	cleanup := v1.Group("/cleanup")
	{
		cleanup.POST("/request-code", cleanupHandler.RequestCode)
		cleanup.POST("/confirm", cleanupHandler.Confirm)
	}

	// Protected routes: require a provider-issued bearer token.
	authed := v1.Group("")
	authed.Use(middleware.Auth(cfg.Identity.JWTSecret))
	{
		authed.POST("/provision", provisioningHandler.Provision)
		authed.GET("/orphan-status", orphanHandler.Status)
		authed.GET("/audit", auditHandler.List)
		authed.GET("/audit/export", auditHandler.Export)
	}

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
