package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dittorpc/internal/bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
server:
  max_frame_size: 8MiB
session:
  reaper_interval: 2s
  response_wait_timeout: 500ms
protocol:
  compression_threshold: 1KiB
  serializers:
    deny: [json]
applications:
  Bank:
    lifecycle_class: demo.counter
    max_inactive_interval: 5m
    security:
      manager: database
      cache_mode: session
    access:
      deny_objects: ["internal*"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 2*time.Second, cfg.Session.ReaperInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ResponseWaitTimeout)
	assert.Equal(t, DefaultMaxInactiveInterval, cfg.Session.MaxInactiveInterval)
	assert.Equal(t, bytesize.KiB, cfg.Protocol.CompressionThreshold)
	assert.Equal(t, 8*bytesize.MiB, cfg.Server.MaxFrameSize)
	assert.Equal(t, []string{"json"}, cfg.Protocol.Serializers.Deny)

	app, ok := cfg.Applications["bank"]
	require.True(t, ok, "application names are lower-cased")
	assert.Equal(t, "demo.counter", app.LifeCycleClass)
	assert.Equal(t, 5*time.Minute, app.MaxInactiveInterval)
	assert.Equal(t, "session", app.Security.CacheMode)
	assert.Equal(t, []string{"internal*"}, app.Access.DenyObjects)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, DefaultMaxFrameSize, cfg.Server.MaxFrameSize)
	assert.Contains(t, cfg.Applications, "demo")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DITTORPC_SERVER_PORT", "9911")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 9911, cfg.Server.Port)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"bad cache mode", func(c *Config) {
			c.Applications["demo"] = ApplicationConfig{Security: SecurityConfig{CacheMode: "global"}}
		}, "CacheMode"},
		{"denied default serializer", func(c *Config) { c.Protocol.Serializers.Deny = []string{DefaultSerializer} }, "denied"},
		{"short jwt secret", func(c *Config) { c.Server.Admin.JWTSecret = "short" }, "JWTSecret"},
		{"audit without path", func(c *Config) { c.Audit.Enabled = true }, "Path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Validate(GetDefaultConfig()))
}

func TestInitConfigToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, InitConfigToPath(path, false))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "# DittoRPC Configuration File"))

	err = InitConfigToPath(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, InitConfigToPath(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo.counter", cfg.Applications["demo"].LifeCycleClass)
}

func TestSaveConfigPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(GetDefaultConfig(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "DittoRPC Configuration")
	assert.Contains(t, string(data), "applications")
}
