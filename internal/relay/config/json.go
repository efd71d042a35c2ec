package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pokar-monil/kharchakitab-sub000/internal/flagx"
	"github.com/pokar-monil/kharchakitab-sub000/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "15s" and integer nanoseconds.
type JsonConfig struct {
	EndpointAddr          string         `json:"endpoint_addr"`
	PresenceTTL           timex.Duration `json:"presence_ttl"`
	PairingTTL            timex.Duration `json:"pairing_ttl"`
	PresenceSweepInterval timex.Duration `json:"presence_sweep_interval"`
	PairingSweepInterval  timex.Duration `json:"pairing_sweep_interval"`
}

// parseJson loads configuration values from the JSON file given via the
// -c/-config flags, if any. Zero-valued fields leave the defaults intact.
// Unreadable or invalid files panic, matching flag parse failures.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.PresenceTTL.Duration != 0 {
		config.PresenceTTL = time.Duration(c.PresenceTTL.Duration)
	}
	if c.PairingTTL.Duration != 0 {
		config.PairingTTL = time.Duration(c.PairingTTL.Duration)
	}
	if c.PresenceSweepInterval.Duration != 0 {
		config.PresenceSweepInterval = time.Duration(c.PresenceSweepInterval.Duration)
	}
	if c.PairingSweepInterval.Duration != 0 {
		config.PairingSweepInterval = time.Duration(c.PairingSweepInterval.Duration)
	}
}
