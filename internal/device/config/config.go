// Package config handles configuration for the device component,
// including defaults, JSON overlay, and command-line flags.
package config

import "os"

// Config holds runtime settings for the device CLI.
//
// Fields:
//   - RelayURL: websocket endpoint of the signaling relay.
//   - DatabaseDSN: path of the local SQLite database.
//   - DisplayName: human-readable name shown to pairing partners.
type Config struct {
	RelayURL    string
	DatabaseDSN string
	DisplayName string
}

// LoadDefaults populates Config with sensible local defaults.
func (c *Config) LoadDefaults() {
	c.RelayURL = "ws://localhost:8787/ws"
	c.DatabaseDSN = "kharchakitab.db"
	c.DisplayName = defaultDisplayName()
}

func defaultDisplayName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "device"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from the given command-line
// arguments (everything after the subcommand).
func LoadConfig(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg, args)
	return cfg
}
