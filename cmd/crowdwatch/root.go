package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/crowdwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "crowdwatch",
	Short:         "Crowd-safety session risk aggregation and alerting",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})
		cfg = loadConfig()
		zerolog.SetGlobalLevel(logLevel(cfg.LogLevel, debug))
		return nil
	},
}

// cfg is loaded once before any subcommand runs.
var cfg *config.Config

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(zoneCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println(Version)
	},
}

// logLevel resolves the configured level. --debug wins.
func logLevel(configured string, debug bool) zerolog.Level {
	if debug {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(configured)
	if err != nil || configured == "" {
		return zerolog.InfoLevel
	}
	return level
}

// loadConfig ensures the data directory exists and reads settings.json.
func loadConfig() *config.Config {
	if err := config.EnsureAll(); err != nil {
		log.Warn().Err(err).Msg("Failed to ensure data directories")
	}
	loaded, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		loaded = config.Default()
	}
	return loaded
}
