package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/crowdwatch/internal/export"
	"github.com/thebtf/crowdwatch/internal/objstore"
	"github.com/thebtf/crowdwatch/internal/worker/session"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every stored session as CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, _ := cmd.Flags().GetString("output")

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		defer store.Close()

		var w io.Writer = cmd.OutOrStdout()
		if out != "" && out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}

		n, err := exportSessions(cmd.Context(), store, w)
		if err != nil {
			return err
		}
		log.Info().Int("sessions", n).Str("output", out).Msg("Export complete")
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
}

func exportSessions(ctx context.Context, store objstore.Store, w io.Writer) (int, error) {
	sessions, err := session.NewRepository(store).List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	if err := export.WriteCSV(w, sessions); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(sessions), nil
}
