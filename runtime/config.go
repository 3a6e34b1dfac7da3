// CLAUDE:SUMMARY Daemon configuration — YAML loader with defaults for listen address, database, browser and content signing.
package runtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// ListenAddr is the HTTP bind address. The daemon is meant to stay on
	// loopback; content URLs are signed, not access controlled.
	ListenAddr string `yaml:"listen_addr"`
	// DBPath is the sqlite database file.
	DBPath string `yaml:"db_path"`
	// BaseURL is the externally visible prefix for signed content URLs.
	// Defaults to http://<listen_addr>.
	BaseURL string `yaml:"base_url"`

	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig controls how the browser host connects.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local instance.
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
	Stealth   bool   `yaml:"stealth"`
}

func (c *Config) defaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8791"
	}
	if c.DBPath == "" {
		c.DBPath = "db/packetd.db"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.ListenAddr
	}
}

// LoadConfigFile reads a YAML config file and applies defaults. A missing
// path yields the default configuration.
func LoadConfigFile(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("runtime: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("runtime: parse config: %w", err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
