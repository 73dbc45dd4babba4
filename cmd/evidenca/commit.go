package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/evidenca/internal/commitment"
	"github.com/erazemk/evidenca/internal/registry"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Assign rarity tiers and publish the Merkle root",
	Long: `commit shuffles every unit under the seed, deals the tier table over the
shuffled list and publishes the resulting Merkle root. It can run once; the
unit pool is frozen afterwards. Only the seed's hash is published until
reveal.

Tiers come from a YAML file (--tiers) or the compact form --tier-table
"legendary:3,common:97".`,
	Args: cobra.NoArgs,
	RunE: runCommit,
}

var revealCmd = &cobra.Command{
	Use:   "reveal",
	Short: "Publish the commitment seed",
	Args:  cobra.NoArgs,
	RunE:  runReveal,
}

var commitOpts struct {
	seed      string
	tiersFile string
	tierTable string
}

var revealSeed string

func init() {
	flags := commitCmd.Flags()
	flags.StringVarP(&commitOpts.seed, "seed", "s", "", "secret seed for the shuffle")
	flags.StringVarP(&commitOpts.tiersFile, "tiers", "t", "", "YAML tier table file")
	flags.StringVar(&commitOpts.tierTable, "tier-table", "", `compact tier table, e.g. "A:3,B:7"`)
	_ = commitCmd.MarkFlagRequired("seed")
	commitCmd.MarkFlagsOneRequired("tiers", "tier-table")
	commitCmd.MarkFlagsMutuallyExclusive("tiers", "tier-table")

	revealCmd.Flags().StringVarP(&revealSeed, "seed", "s", "", "seed used at commit")
	_ = revealCmd.MarkFlagRequired("seed")

	rootCmd.AddCommand(commitCmd, revealCmd)
}

// loadTierTable reads the tier table from whichever flag was given.
func loadTierTable(file, table string) ([]commitment.Tier, error) {
	if table != "" {
		return commitment.ParseTiers(table)
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening tier table: %w", err)
	}
	defer f.Close()
	return commitment.LoadTiers(f)
}

func runCommit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tiers, err := loadTierTable(commitOpts.tiersFile, commitOpts.tierTable)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	info, err := newRegistry(st, cfg).Commit(ctx, commitOpts.seed, tiers)
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	printCommitment(cmd.OutOrStdout(), info)
	return nil
}

func runReveal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := newRegistry(st, cfg).RevealSeed(ctx, revealSeed); err != nil {
		return fmt.Errorf("revealing seed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Seed revealed.")
	return nil
}

func printCommitment(w io.Writer, info registry.CommitmentInfo) {
	fmt.Fprintf(w, "Root:      %s\n", info.Root)
	fmt.Fprintf(w, "Seed hash: %s\n", info.SeedHash)
	fmt.Fprintf(w, "Units:     %d\n", info.Count)
	for _, t := range info.Tiers {
		fmt.Fprintf(w, "  %-12s %d\n", t.Name, t.Count)
	}
}
