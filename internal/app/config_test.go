package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "https://identity.example.com", cfg.Identity.BaseURL)
	require.Equal(t, "anon-key", cfg.Identity.APIKey)
	require.Equal(t, "shared-secret", cfg.Identity.JWTSecret)
	require.Equal(t, 8*time.Second, cfg.Identity.Timeout)

	require.Equal(t, 2*time.Second, cfg.Registration.BackoffBase)
	require.Equal(t, 2.0, cfg.Registration.BackoffMultiplier)
	require.Equal(t, 20*time.Second, cfg.Registration.BackoffCap)
	require.Equal(t, 4*time.Second, cfg.Registration.ProvisionTimeout)

	require.Equal(t, 10*time.Minute, cfg.Cleanup.CodeExpiry)
	require.Equal(t, 8, cfg.Cleanup.CodeDigits)
	require.Equal(t, 180, cfg.Cleanup.LogRetentionDays)

	require.Equal(t, int64(500), cfg.RateLimit.Global.Limit)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Global.Window)
	require.Equal(t, int64(10), cfg.RateLimit.IP.Limit)
	require.Equal(t, int64(2), cfg.RateLimit.Email.Limit)
	require.Equal(t, 30*time.Minute, cfg.RateLimit.Email.Window)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, "smtp-user", cfg.Email.SMTP.Username)
	require.Equal(t, "smtp-pass", cfg.Email.SMTP.Password)
	require.Equal(t, "no-reply@example.com", cfg.Email.SMTP.From)
	require.True(t, cfg.Email.SMTP.UseTLS)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 3*time.Second, cfg.Registration.BackoffBase)
	require.Equal(t, 1.5, cfg.Registration.BackoffMultiplier)
	require.Equal(t, 30*time.Second, cfg.Registration.BackoffCap)
	require.Equal(t, 5*time.Minute, cfg.Cleanup.CodeExpiry)
	require.Equal(t, 6, cfg.Cleanup.CodeDigits)
	require.Equal(t, 365, cfg.Cleanup.LogRetentionDays)
	require.Equal(t, int64(1000), cfg.RateLimit.Global.Limit)
	require.Equal(t, int64(5), cfg.RateLimit.IP.Limit)
	require.Equal(t, int64(3), cfg.RateLimit.Email.Limit)
	require.Equal(t, time.Hour, cfg.RateLimit.Email.Window)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg.Identity.BaseURL = "https://identity.example.com"
	require.Error(t, cfg.Validate())

	cfg.Identity.JWTSecret = "secret"
	require.NoError(t, cfg.Validate())
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}
