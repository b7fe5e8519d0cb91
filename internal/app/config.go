package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the registrar backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Email        EmailConfig        `mapstructure:"email"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// IdentityConfig points at the external identity provider. JWTSecret is the
// shared HS256 secret: it validates inbound provider-issued bearer tokens and
// signs the service-role token used for admin calls.
type IdentityConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RegistrationConfig tunes the submission flow defaults handed to clients.
type RegistrationConfig struct {
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	ProvisionTimeout  time.Duration `mapstructure:"provision_timeout"`
}

// CleanupConfig tunes the recovery-code exchange and retention sweeps.
type CleanupConfig struct {
	CodeExpiry       time.Duration `mapstructure:"code_expiry"`
	CodeDigits       int           `mapstructure:"code_digits"`
	LogRetentionDays int           `mapstructure:"log_retention_days"`
}

// RateLimitConfig holds the three-tier thresholds.
type RateLimitConfig struct {
	Global RateTierConfig `mapstructure:"global"`
	IP     RateTierConfig `mapstructure:"ip"`
	Email  RateTierConfig `mapstructure:"email"`
}

// RateTierConfig is one threshold over a fixed window.
type RateTierConfig struct {
	Limit  int64         `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// CacheConfig selects the backing store for rate-limit counters. Redis is
// optional; the SQL database serves as the default store.
type CacheConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("REGISTRAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations that cannot serve traffic. Identity
// credentials have no safe generated default: the JWT secret must match the
// provider's or every inbound token fails validation.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.BaseURL) == "" {
		return errors.New("config: identity.base_url is required")
	}
	if strings.TrimSpace(c.Identity.JWTSecret) == "" {
		return errors.New("config: identity.jwt_secret is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/registrar.sqlite")

	v.SetDefault("identity.timeout", "10s")

	v.SetDefault("registration.backoff_base", "3s")
	v.SetDefault("registration.backoff_multiplier", 1.5)
	v.SetDefault("registration.backoff_cap", "30s")
	v.SetDefault("registration.provision_timeout", "3s")

	v.SetDefault("cleanup.code_expiry", "5m")
	v.SetDefault("cleanup.code_digits", 6)
	v.SetDefault("cleanup.log_retention_days", 365)

	v.SetDefault("ratelimit.global.limit", 1000)
	v.SetDefault("ratelimit.global.window", "60s")
	v.SetDefault("ratelimit.ip.limit", 5)
	v.SetDefault("ratelimit.ip.window", "60s")
	v.SetDefault("ratelimit.email.limit", 3)
	v.SetDefault("ratelimit.email.window", "3600s")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
