// Package main provides the crowdwatch command line.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("crowdwatch failed")
		os.Exit(1)
	}
}
