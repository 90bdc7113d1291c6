package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://localhost/clienthub"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, "us-east-1", cfg.SES.Region)
	assert.Equal(t, "ClientHub", cfg.SES.FromName)
	assert.Equal(t, 7, cfg.Scheduler.ExpiryDays)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
ses:
  enabled: true
  region: "eu-west-1"
  from_email: "hello@clienthub.io"
scheduler:
  expiry_days: 14
  dispatch_spec: "*/30 * * * *"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.SES.Enabled)
	assert.Equal(t, "eu-west-1", cfg.SES.Region)
	assert.Equal(t, 14, cfg.Scheduler.ExpiryDays)
	assert.Equal(t, "*/30 * * * *", cfg.Scheduler.DispatchSpec)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://file-value/db"
`)
	t.Setenv("DATABASE_URL", "postgres://env-value/db")
	t.Setenv("SES_FROM_EMAIL", "noreply@clienthub.io")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-value/db", cfg.Database.URL)
	assert.Equal(t, "noreply@clienthub.io", cfg.SES.FromEmail)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled, "setting REDIS_ADDR enables redis")
}
