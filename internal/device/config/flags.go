package config

import (
	"flag"

	"github.com/pokar-monil/kharchakitab-sub000/internal/flagx"
)

// parseFlags populates selected device Config fields from command-line
// flags.
//
// Supported flags (short forms):
//
//	-r string   relay websocket URL
//	-d string   local database path
//	-n string   display name shown to pairing partners
func parseFlags(config *Config, args []string) {
	filtered := flagx.FilterArgs(args, []string{"-r", "-d", "-n"})

	fs := flag.NewFlagSet("device", flag.ContinueOnError)

	fs.StringVar(&config.RelayURL, "r", config.RelayURL, "relay websocket URL")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "local database path")
	fs.StringVar(&config.DisplayName, "n", config.DisplayName, "display name")

	if err := fs.Parse(filtered); err != nil {
		panic(err)
	}
}
