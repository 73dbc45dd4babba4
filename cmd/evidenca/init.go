package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database, seed units and generate the admin password",
	Long: `init migrates the database, adds the given units to the available pool and,
unless one already exists, generates an admin password. The password is
printed once and only its hash is stored.

Units come either from --count and --prefix (EV-0001, EV-0002, ...) or from a
file with one identifier per line.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initOpts struct {
	count         int
	prefix        string
	width         int
	idsFile       string
	resetPassword bool
}

func init() {
	flags := initCmd.Flags()
	flags.IntVarP(&initOpts.count, "count", "n", 0, "number of units to generate")
	flags.StringVarP(&initOpts.prefix, "prefix", "p", "EV-", "identifier prefix for generated units")
	flags.IntVar(&initOpts.width, "width", 4, "zero-padded width of generated numbers")
	flags.StringVarP(&initOpts.idsFile, "ids-file", "f", "", "file with one unit identifier per line")
	flags.BoolVar(&initOpts.resetPassword, "reset-password", false, "replace an existing admin password")
	initCmd.MarkFlagsMutuallyExclusive("count", "ids-file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ids, err := initUnitIDs()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	password, err := ensureAdminPassword(ctx, st, initOpts.resetPassword)
	if err != nil {
		return err
	}

	inserted := 0
	if len(ids) > 0 {
		if inserted, err = newRegistry(st, cfg).SeedUnits(ctx, ids); err != nil {
			return fmt.Errorf("seeding units: %w", err)
		}
	}

	printInitResult(cmd.OutOrStdout(), len(ids), inserted, password)
	return nil
}

// initUnitIDs builds the identifier list from the init flags.
func initUnitIDs() ([]string, error) {
	if initOpts.idsFile != "" {
		f, err := os.Open(initOpts.idsFile)
		if err != nil {
			return nil, fmt.Errorf("opening ids file: %w", err)
		}
		defer f.Close()
		return readUnitIDs(f)
	}
	if initOpts.count < 0 {
		return nil, fmt.Errorf("count cannot be negative")
	}
	return generateUnitIDs(initOpts.prefix, initOpts.width, initOpts.count), nil
}

// generateUnitIDs returns prefix0001 through prefixNNNN.
func generateUnitIDs(prefix string, width, count int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%0*d", prefix, width, i+1)
	}
	return ids
}

// readUnitIDs reads one identifier per line. Blank lines and lines starting
// with # are skipped.
func readUnitIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ids: %w", err)
	}
	return ids, nil
}

// ensureAdminPassword generates and stores an admin password unless one is
// already set. It returns the new password, or "" if nothing changed.
func ensureAdminPassword(ctx context.Context, st store.Store, reset bool) (string, error) {
	if !reset {
		_, ok, err := st.GetSetting(ctx, store.SettingAdminPasswordHash)
		if err != nil {
			return "", fmt.Errorf("loading admin password: %w", err)
		}
		if ok {
			return "", nil
		}
	}

	password, err := auth.GeneratePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	if err := st.PutSetting(ctx, store.SettingAdminPasswordHash, hash); err != nil {
		return "", fmt.Errorf("storing admin password: %w", err)
	}
	return password, nil
}

// printInitResult prints the initialization result.
func printInitResult(w io.Writer, requested, inserted int, password string) {
	fmt.Fprintln(w, "Schema initialized.")
	if requested > 0 {
		fmt.Fprintf(w, "Units: %d new of %d requested.\n", inserted, requested)
	}
	if password == "" {
		fmt.Fprintln(w, "Admin password already set, left unchanged.")
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Admin password: %s\n", password)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Save this password. It cannot be recovered.")
	fmt.Fprintln(w, "Run init --reset-password to replace it.")
}
