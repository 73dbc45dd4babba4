package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erazemk/evidenca/internal/commitment"
)

var errProofInvalid = errors.New("proof does not verify")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a rarity proof against a published root",
	Long: `verify recomputes a unit's leaf from its identifier, tier and nonce, folds the
proof into it and compares the result with the root. It does not touch the
database.`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE:              runVerify,
}

var verifyOpts struct {
	id    string
	tier  string
	nonce string
	root  string
	proof []string
}

func init() {
	flags := verifyCmd.Flags()
	flags.StringVar(&verifyOpts.id, "id", "", "unit identifier")
	flags.StringVar(&verifyOpts.tier, "tier", "", "claimed tier")
	flags.StringVar(&verifyOpts.nonce, "nonce", "", "unit nonce")
	flags.StringVar(&verifyOpts.root, "root", "", "published Merkle root")
	flags.StringSliceVar(&verifyOpts.proof, "proof", nil, "sibling hashes, comma separated")
	for _, name := range []string{"id", "tier", "nonce", "root"} {
		_ = verifyCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	if !commitment.Verify(verifyOpts.id, verifyOpts.tier, verifyOpts.nonce, verifyOpts.proof, verifyOpts.root) {
		return errProofInvalid
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: %s is %s under %s\n", verifyOpts.id, verifyOpts.tier, verifyOpts.root)
	return nil
}
