package config

import (
	"flag"
	"os"

	"github.com/pokar-monil/kharchakitab-sub000/internal/flagx"
)

// parseFlags populates selected relay Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind address (e.g., ":8787")
//
// The TTL and sweep settings are protocol constants; they are adjustable
// only through the JSON config, mostly for tests.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run relay")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
