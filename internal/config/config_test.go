package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.HTTP.Bind)
	assert.Equal(t, 7345, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, TransportNone, cfg.Host.Transport)
	assert.Equal(t, 2*time.Second, cfg.Host.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Panel.RequestTimeout)
	assert.True(t, cfg.HTTPEnabled())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
http:
  enabled: false
  port: 9000
logging:
  level: debug
  json: true
host:
  transport: WebSocket
  url: ws://127.0.0.1:7346/bridge
  token: secret
  reconnect_delay: 500ms
panel:
  request_timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.HTTPEnabled())
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, TransportWebSocket, cfg.Host.Transport)
	assert.Equal(t, "secret", cfg.Host.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Host.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Panel.RequestTimeout)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown transport": "host:\n  transport: carrier-pigeon\n",
		"websocket no url":  "host:\n  transport: websocket\n",
		"tls without certs": "http:\n  tls:\n    enabled: true\n",
		"not yaml":          "host: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/energy-bridge/config.yaml")
	assert.Equal(t, "/tmp/flag.yaml", Path("/tmp/flag.yaml"))
	assert.Equal(t, "/etc/energy-bridge/config.yaml", Path(""))
}
