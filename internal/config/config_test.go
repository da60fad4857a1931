package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Bridge.RequestTimeout)
	assert.Equal(t, 5678, cfg.Launcher.Port)
	assert.Equal(t, "python3", cfg.Launcher.Python)
	assert.Equal(t, []PathMapping{{LocalRoot: ".", RemoteRoot: "."}}, cfg.Bridge.PathMappings)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8000", cfg.Address())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	content := `
server:
  port: 9100
bridge:
  request_timeout: 3s
  path_mappings:
    - localRoot: /src
      remoteRoot: /app
launcher:
  python: /usr/bin/python3.12
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 3*time.Second, cfg.Bridge.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Bridge.HandshakeTimeout)
	assert.Equal(t, []PathMapping{{LocalRoot: "/src", RemoteRoot: "/app"}}, cfg.Bridge.PathMappings)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Launcher.Python)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DEBUG_BRIDGE_SERVER_PORT", "9200")
	t.Setenv("DEBUG_BRIDGE_BRIDGE_ATTACH_GRACE", "1s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Bridge.AttachGrace)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server port", func(c *Config) { c.Server.Port = 70000 }},
		{"launcher port", func(c *Config) { c.Launcher.Port = -1 }},
		{"request timeout", func(c *Config) { c.Bridge.RequestTimeout = 0 }},
		{"handshake timeout", func(c *Config) { c.Bridge.HandshakeTimeout = -time.Second }},
		{"attach grace", func(c *Config) { c.Bridge.AttachGrace = -time.Millisecond }},
		{"ready timeout", func(c *Config) { c.Launcher.ReadyTimeout = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
