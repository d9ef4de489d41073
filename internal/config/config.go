package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPath = "ENERGY_BRIDGE_CONFIG"

const (
	TransportNone      = "none"
	TransportStdio     = "stdio"
	TransportWebSocket = "websocket"
)

type Config struct {
	HTTP struct {
		Enabled *bool  `yaml:"enabled"`
		Bind    string `yaml:"bind"`
		Port    int    `yaml:"port"`
		TLS     struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Auth struct {
		JWTPublicKeys []string `yaml:"jwt_public_keys"` // PEM certificate paths
		Issuer        string   `yaml:"issuer"`
		Audience      string   `yaml:"audience"`
	} `yaml:"auth"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Host  Host `yaml:"host"`
	Panel struct {
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"panel"`
}

// Host selects how the bridge reaches the editor host.
type Host struct {
	Transport      string        `yaml:"transport"` // none | stdio | websocket
	URL            string        `yaml:"url"`       // ws://127.0.0.1:7346/bridge
	Token          string        `yaml:"token"`
	Insecure       bool          `yaml:"insecure"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// HTTPEnabled reports whether the local dashboard API should be served. Defaults to true.
func (c *Config) HTTPEnabled() bool {
	return c.HTTP.Enabled == nil || *c.HTTP.Enabled
}

// Load reads a YAML config. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Path resolves the config path from the flag value or the environment.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	return strings.TrimSpace(os.Getenv(EnvPath))
}

func (c *Config) applyDefaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 7345
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Host.Transport = strings.ToLower(strings.TrimSpace(c.Host.Transport))
	if c.Host.Transport == "" {
		c.Host.Transport = TransportNone
	}
	if c.Host.ReconnectDelay <= 0 {
		c.Host.ReconnectDelay = 2 * time.Second
	}
	if c.Panel.RequestTimeout <= 0 {
		c.Panel.RequestTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	switch c.Host.Transport {
	case TransportNone, TransportStdio:
	case TransportWebSocket:
		if c.Host.URL == "" {
			return fmt.Errorf("host.url is required for the %s transport", TransportWebSocket)
		}
	default:
		return fmt.Errorf("unknown host.transport %q", c.Host.Transport)
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.Cert == "" || c.HTTP.TLS.Key == "") {
		return fmt.Errorf("http.tls requires cert and key")
	}
	return nil
}
