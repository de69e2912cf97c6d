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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 0\n"))
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Second, cfg.Liveness.Interval())
	assert.Equal(t, 8*time.Second, cfg.Liveness.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Liveness.Grace())
	assert.True(t, cfg.LivenessEnabled())
	assert.False(t, cfg.PushEnabled())
	assert.Equal(t, "factory/machines/+/logs", cfg.MQTT.Topic)
	assert.Equal(t, time.Local, cfg.Location)
	assert.Equal(t, 5000, cfg.Logs.MaxRows)
}

func TestLoad_ExplicitValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 8080
database:
  driver: postgres
  dsn: "host=db user=factory"
liveness:
  enabled: false
  timeout_ms: 5000
timezone: Asia/Shanghai
push:
  vapid_public_key: pub
  vapid_private_key: priv
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=factory", cfg.Database.DSN)
	assert.False(t, cfg.LivenessEnabled())
	assert.Equal(t, 5*time.Second, cfg.Liveness.Timeout())
	assert.Equal(t, "Asia/Shanghai", cfg.Location.String())
	assert.True(t, cfg.PushEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DASHBOARD_PORT", "9090")
	t.Setenv("DASHBOARD_DB_DSN", "file::memory:")
	t.Setenv("DASHBOARD_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "timezone: Not/AZone\n"))
	assert.Error(t, err)
}
