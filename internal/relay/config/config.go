// Package config handles configuration for the relay component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the signaling relay.
//
// Fields:
//   - EndpointAddr: bind address for the websocket/health listener.
//   - PresenceTTL: inactivity window after which a presence entry is pruned.
//   - PairingTTL: lifetime of a pairing session from creation.
//   - PresenceSweepInterval / PairingSweepInterval: background prune cadence.
type Config struct {
	EndpointAddr          string
	PresenceTTL           time.Duration
	PairingTTL            time.Duration
	PresenceSweepInterval time.Duration
	PairingSweepInterval  time.Duration
}

// LoadDefaults populates Config with the protocol defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8787"
	c.PresenceTTL = 60 * time.Second
	c.PairingTTL = 5 * time.Minute
	c.PresenceSweepInterval = 15 * time.Second
	c.PairingSweepInterval = 30 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
