package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canopy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:37780", cfg.ListenAddr())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
search:
  timeout: 250ms
  fuzzy_attributes: true
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Bind)
	assert.Equal(t, 250*time.Millisecond, cfg.Search.Timeout)
	assert.True(t, cfg.Search.FuzzyAttributes)
	assert.Equal(t, 100, cfg.Search.DefaultLimit)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1024, cfg.Events.BufferSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CANOPY_SERVER_PORT", "8123")
	t.Setenv("CANOPY_DATABASE_PATH", "/tmp/canopy.db")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "/tmp/canopy.db", cfg.Database.Path)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  format: xml\n"))
	assert.ErrorContains(t, err, "logging.format")

	_, err = Load(writeConfig(t, "server:\n  port: 70000\n"))
	assert.ErrorContains(t, err, "out of range")
}
