package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/crowdwatch/internal/config"
	"github.com/thebtf/crowdwatch/internal/worker/session"
	"github.com/thebtf/crowdwatch/internal/zones"
)

var zoneCmd = &cobra.Command{
	Use:   "zone <location>",
	Short: "Print the status update for the latest session at a location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		defer store.Close()

		reg, err := zones.Load(config.ZonesPath())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load zone registry")
			reg = zones.Empty()
		}

		update, err := zoneUpdate(cmd.Context(), session.NewRepository(store), reg, args[0])
		if err != nil {
			return err
		}
		cmd.Println(update.Message)
		return nil
	},
}

func zoneUpdate(ctx context.Context, repo *session.Repository, reg *zones.Registry, location string) (zones.Update, error) {
	name := reg.Canonical(location)
	latest, err := repo.Latest(ctx, name)
	if err != nil {
		return zones.Update{}, err
	}
	zone, _ := reg.Get(name)
	return zones.BuildUpdate(name, zone, latest), nil
}
