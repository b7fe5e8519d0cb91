package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/api"
	"github.com/glotta/registrar/internal/app"
	"github.com/glotta/registrar/internal/app/maintenance"
	"github.com/glotta/registrar/internal/cache"
	"github.com/glotta/registrar/internal/database"
	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/services"
	"github.com/glotta/registrar/pkg/logger"
	"github.com/glotta/registrar/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    cache.Store
	Provider identity.Client
	Limiter  *services.RateLimiter
	AuditSvc *services.AuditService
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, identity client, services, and
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Provider, err = identity.NewHTTPClient(identity.HTTPConfig{
		BaseURL:   cfg.Identity.BaseURL,
		APIKey:    cfg.Identity.APIKey,
		JWTSecret: cfg.Identity.JWTSecret,
		Timeout:   cfg.Identity.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise identity client: %w", err)
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed counters", zap.Error(redisErr))
		} else {
			stack.Redis = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var limiterStore cache.Store = dbStore
	if stack.Redis != nil {
		limiterStore = stack.Redis
	}

	stack.Limiter, err = services.NewRateLimiter(limiterStore, rateTiers(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialise rate limiter: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	var mailer mail.Mailer
	if cfg.Email.SMTP.Enabled {
		mailer, err = mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise mailer: %w", err)
		}
	}

	emailStatusSvc, err := services.NewEmailStatusService(stack.DB, stack.Provider, stack.Limiter)
	if err != nil {
		return nil, fmt.Errorf("initialise email status service: %w", err)
	}

	provisioningSvc, err := services.NewProvisioningService(stack.DB, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise provisioning service: %w", err)
	}

	cleanupSvc, err := services.NewCleanupService(stack.DB, stack.Provider, stack.Limiter, stack.AuditSvc, mailer,
		services.WithCleanupCodeExpiry(cfg.Cleanup.CodeExpiry),
		services.WithCleanupCodeDigits(cfg.Cleanup.CodeDigits),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise cleanup service: %w", err)
	}

	orphanSvc, err := services.NewOrphanService(stack.DB, stack.Provider)
	if err != nil {
		return nil, fmt.Errorf("initialise orphan service: %w", err)
	}

	// Redis entries expire natively; the sweeper is only needed for the
	// database-backed store.
	stack.Cleaner = maintenance.NewCleaner(cleanupSvc, dbStore, stack.AuditSvc,
		maintenance.WithCodeRetentionDays(cfg.Cleanup.LogRetentionDays),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(stack.DB, cfg, api.Services{
		EmailStatus:  emailStatusSvc,
		Provisioning: provisioningSvc,
		Cleanup:      cleanupSvc,
		Orphan:       orphanSvc,
		Audit:        stack.AuditSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func rateTiers(cfg *app.Config) []services.RateLimitTier {
	tiers := services.DefaultRateTiers()
	for i := range tiers {
		switch tiers[i].Name {
		case services.RateTierGlobal:
			applyTier(&tiers[i], cfg.RateLimit.Global)
		case services.RateTierIP:
			applyTier(&tiers[i], cfg.RateLimit.IP)
		case services.RateTierEmail:
			applyTier(&tiers[i], cfg.RateLimit.Email)
		}
	}
	return tiers
}

func applyTier(tier *services.RateLimitTier, cfg app.RateTierConfig) {
	if cfg.Limit > 0 {
		tier.Limit = cfg.Limit
	}
	if cfg.Window > 0 {
		tier.Window = cfg.Window
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
