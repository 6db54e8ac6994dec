package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, cfg.DB.DSN, cfg.DB.ReadOnlyDSN)
	assert.False(t, cfg.DB.AutoMigrate)
	assert.Equal(t, time.Hour, cfg.DB.ConnMaxLifetime)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "library-events", cfg.Azure.QueueName)
	assert.Equal(t, 5*time.Minute, cfg.Worker.ReconcileInterval)
	assert.Equal(t, 48*time.Hour, cfg.Worker.ReconcileWindow)
	assert.Equal(t, "library-issue-notes", FormatIndex(cfg.Elastic, cfg.Elastic.Index))
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LIBRARY_DATABASE_DRIVER", "sqlite")
	t.Setenv("LIBRARY_DATABASE_DSN", "file:library.db?_foreign_keys=1")
	t.Setenv("LIBRARY_REDIS_ENABLED", "true")
	t.Setenv("LIBRARY_WORKER_RECONCILE_WINDOW", "72h")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "file:library.db?_foreign_keys=1", cfg.DB.DSN)
	assert.Equal(t, cfg.DB.DSN, cfg.DB.ReadOnlyDSN)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 72*time.Hour, cfg.Worker.ReconcileWindow)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
environment: production
database:
  driver: postgres
  dsn: postgresql://primary/library
  read_only_dsn: postgresql://replica/library
  auto_migrate: true
elastic:
  enabled: true
  prefix: staging
server:
  cors_origins:
    - https://library.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "postgresql://replica/library", cfg.DB.ReadOnlyDSN)
	assert.True(t, cfg.DB.AutoMigrate)
	assert.True(t, cfg.Elastic.Enabled)
	assert.Equal(t, "staging-issue-notes", FormatIndex(cfg.Elastic, cfg.Elastic.Index))
	assert.Equal(t, []string{"https://library.example.com"}, cfg.Server.CorsOrigins)
}
