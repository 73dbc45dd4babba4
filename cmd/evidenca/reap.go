package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Expire overdue reservations once and exit",
	Args:  cobra.NoArgs,
	RunE:  runReap,
}

var reapBatch int

func init() {
	reapCmd.Flags().IntVarP(&reapBatch, "batch", "b", 0, "maximum reservations to expire (env EVIDENCA_REAPER_BATCH)")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	batch := cfg.ReaperBatch
	if reapBatch > 0 {
		batch = reapBatch
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := newRegistry(st, cfg).Reap(ctx, batch)
	if err != nil {
		return fmt.Errorf("reaping: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, expired %d, released %d, failed %d.\n",
		stats.Scanned, stats.Expired, stats.Released, stats.Failed)
	return nil
}
