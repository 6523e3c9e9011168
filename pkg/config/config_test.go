package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 4800\n"))
	require.NoError(t, err)

	assert.Equal(t, 4800, cfg.Server.Port)
	assert.Equal(t, "both", cfg.Farm.IOSDeviceType)
	assert.Equal(t, DefaultDeviceAvailabilityTimeout, cfg.Farm.DeviceAvailabilityTimeout)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.True(t, cfg.IsHub())
}

func TestParse_NodeConfiguration(t *testing.T) {
	yamlData := `
farm:
  platform: ios
  ios_device_type: real
  max_sessions: 3
hub:
  address: http://10.0.0.1:4723
  push_interval_ms: 5000
pruning:
  failure_threshold: 3
`
	cfg, err := Parse([]byte(yamlData))
	require.NoError(t, err)

	assert.False(t, cfg.IsHub())
	assert.Equal(t, "real", cfg.Farm.IOSDeviceType)
	assert.Equal(t, 3, cfg.Farm.MaxSessions)
	assert.Equal(t, 5000, cfg.Hub.PushInterval)
	assert.Equal(t, 3, cfg.Pruning.FailureThreshold)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unterminated"))
	assert.Error(t, err)
}

func TestInit_ReadsConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("farm:\n  max_sessions: 2\n"), 0644))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Init())
	require.NotNil(t, GlobalConfig)
	assert.Equal(t, 2, GlobalConfig.Farm.MaxSessions)
}

func TestMySQLConfig_DSN(t *testing.T) {
	c := MySQLConfig{Host: "db", Port: 3306, User: "u", Password: "p", Database: "farm"}
	assert.Equal(t, "u:p@tcp(db:3306)/farm?charset=utf8mb4&parseTime=True&loc=UTC", c.DSN())
}
