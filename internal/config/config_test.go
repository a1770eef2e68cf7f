package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wareline/branchstore/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  server_id: store-1
storage:
  data_dir: /tmp/branchstore-test
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "store-1", cfg.Server.ServerID)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/branchstore-test/branches", cfg.Storage.BranchesDir)
	assert.Equal(t, "/tmp/branchstore-test/schemas", cfg.Storage.SchemasDir)
	assert.Equal(t, "/tmp/branchstore-test/sequence-rules.json", cfg.Sequence.RulesPath)
	assert.Equal(t, time.Minute, cfg.Archiver.Interval)
	assert.Equal(t, 4, cfg.Archiver.Workers)
	assert.Equal(t, "branchstore:events", cfg.Notifier.ChannelPrefix)
	assert.Equal(t, 9095, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FullDocument(t *testing.T) {
	path := writeConfig(t, `
server:
  server_id: store-2
  shutdown_timeout: 5s
storage:
  data_dir: /data
journal:
  sync_writes: true
archiver:
  enabled: true
  postgres_url: postgres://localhost/journal
  interval: 30s
  workers: 2
modules:
  modules:
    pos:
      tables: [order_header, product]
    clinic:
      tables: [appointment]
  tenants:
    branch-1: [pos]
  default_modules: [pos, clinic]
pipeline:
  locked_tables: [audit_log]
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Journal.SyncWrites)
	assert.True(t, cfg.Archiver.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Archiver.Interval)
	assert.Equal(t, []string{"order_header", "product"}, cfg.Modules.Modules["pos"].Tables)
	assert.Equal(t, []string{"audit_log"}, cfg.Pipeline.LockedTables)
}

func TestLoadConfig_MissingServerID(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /data
`)

	_, err := config.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_id")
}

func TestLoadConfig_ArchiverRequiresPostgresURL(t *testing.T) {
	path := writeConfig(t, `
server:
  server_id: store-1
archiver:
  enabled: true
`)

	_, err := config.LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_url")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestConfig_TenantModules(t *testing.T) {
	path := writeConfig(t, `
server:
  server_id: store-1
modules:
  tenants:
    branch-1: [pos]
  default_modules: [pos, clinic]
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"pos"}, cfg.TenantModules("branch-1"))
	assert.Equal(t, []string{"pos", "clinic"}, cfg.TenantModules("branch-unknown"))
}
