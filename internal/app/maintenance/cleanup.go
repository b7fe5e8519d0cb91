package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/glotta/registrar/internal/services"
	"github.com/glotta/registrar/pkg/logger"
)

const (
	defaultCodeRetentionDays  = 365
	defaultAuditRetentionDays = 90
	defaultCodeSpec           = "@every 1m"
	defaultCacheSpec          = "@every 1m"
	defaultRetentionSpec      = "@daily"
)

// CacheSweeper removes expired rate-limit counters from the backing store.
type CacheSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance tasks: purging expired recovery
// codes, sweeping stale rate-limit counters, and enforcing retention on
// cleanup log entries and audit records.
type Cleaner struct {
	cleanup *services.CleanupService
	cache   CacheSweeper
	audit   *services.AuditService
	cron    *cron.Cron
	log     *zap.Logger
	enabled bool

	codeRetention  int
	auditRetention int

	codeSchedule      string
	cacheSchedule     string
	retentionSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithCodeRetentionDays adjusts how long completed cleanup log entries are retained.
func WithCodeRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.codeRetention = days
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithCodeSchedule overrides the cron specification for expired code sweeps.
func WithCodeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.codeSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for rate-limit counter sweeps.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for retention enforcement.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(cleanup *services.CleanupService, cache CacheSweeper, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		cleanup:           cleanup,
		cache:             cache,
		audit:             audit,
		codeRetention:     defaultCodeRetentionDays,
		auditRetention:    defaultAuditRetentionDays,
		codeSchedule:      defaultCodeSpec,
		cacheSchedule:     defaultCacheSpec,
		retentionSchedule: defaultRetentionSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.cleanup != nil || cleaner.cache != nil || cleaner.audit != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.cleanup != nil {
		if _, err := c.cron.AddFunc(c.codeSchedule, func() {
			if _, err := c.cleanup.SweepExpiredCodes(context.Background()); err != nil {
				c.log.Warn("recovery code sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}

		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			if _, err := c.cleanup.SweepLogEntries(context.Background(), c.codeRetention); err != nil {
				c.log.Warn("cleanup log retention failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.cache.SweepExpired(context.Background()); err != nil {
				c.log.Warn("rate limit counter sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(context.Background(), c.auditRetention); err != nil {
				c.log.Warn("audit retention failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.cleanup != nil {
		if _, err := c.cleanup.SweepExpiredCodes(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := c.cleanup.SweepLogEntries(ctx, c.codeRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.cache != nil {
		if _, err := c.cache.SweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.auditRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
