package config

import (
	"encoding/json"
	"os"

	"github.com/pokar-monil/kharchakitab-sub000/internal/flagx"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling.
type JsonConfig struct {
	RelayURL    string `json:"relay_url"`
	DatabaseDSN string `json:"database_dsn"`
	DisplayName string `json:"display_name"`
}

// parseJson loads configuration values from the JSON file given via the
// -c/-config flags, if any. Zero-valued fields leave the defaults intact.
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

	if c.RelayURL != "" {
		config.RelayURL = c.RelayURL
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.DisplayName != "" {
		config.DisplayName = c.DisplayName
	}
}
