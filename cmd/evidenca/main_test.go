package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/commitment"
	"github.com/erazemk/evidenca/internal/config"
	"github.com/erazemk/evidenca/internal/store"
)

func TestLevelRouterSplitsByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := slog.New(newLevelRouter(&stdout, &stderr)).With("svc", "evidenca")

	logger.Debug("hidden")
	logger.Info("started")
	logger.Warn("slow")
	logger.Error("failed")

	require.NotContains(t, stdout.String(), "hidden")
	require.Contains(t, stdout.String(), "started")
	require.Contains(t, stdout.String(), "slow")
	require.NotContains(t, stdout.String(), "failed")
	require.Contains(t, stderr.String(), "failed")
	require.Contains(t, stderr.String(), "svc=evidenca")
}

func TestGenerateUnitIDs(t *testing.T) {
	require.Equal(t, []string{"EV-0001", "EV-0002", "EV-0003"}, generateUnitIDs("EV-", 4, 3))
	require.Equal(t, []string{"A1", "A2"}, generateUnitIDs("A", 1, 2))
	require.Empty(t, generateUnitIDs("EV-", 4, 0))
}

func TestReadUnitIDs(t *testing.T) {
	ids, err := readUnitIDs(strings.NewReader("# launch batch\nEV-0001\n\n  EV-0002  \n#EV-0003\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"EV-0001", "EV-0002"}, ids)
}

func TestLoadTierTable(t *testing.T) {
	tiers, err := loadTierTable("", "gold:1, silver:2")
	require.NoError(t, err)
	require.Equal(t, []commitment.Tier{{Name: "gold", Count: 1}, {Name: "silver", Count: 2}}, tiers)

	_, err = loadTierTable(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
}

func TestEnsureAdminPassword(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{DBDriver: config.DriverSQLite, DBPath: filepath.Join(t.TempDir(), "evidenca.sqlite3")}

	st, err := openStore(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	password, err := ensureAdminPassword(ctx, st, false)
	require.NoError(t, err)
	require.Len(t, password, 16)

	hash, ok, err := st.GetSetting(ctx, store.SettingAdminPasswordHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, auth.CheckPassword(hash, password))

	again, err := ensureAdminPassword(ctx, st, false)
	require.NoError(t, err)
	require.Empty(t, again, "existing password must be kept")

	reset, err := ensureAdminPassword(ctx, st, true)
	require.NoError(t, err)
	require.NotEqual(t, password, reset)
}

func TestVerifyCommand(t *testing.T) {
	c, err := commitment.Build("seed", []string{"EV-0001", "EV-0002", "EV-0003"},
		[]commitment.Tier{{Name: "rare", Count: 1}, {Name: "common", Count: 2}})
	require.NoError(t, err)
	a := c.Assignments[1]

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"verify",
		"--id", a.ID, "--tier", a.Tier, "--nonce", a.Nonce, "--root", c.Root,
		"--proof", strings.Join(a.Proof, ","),
	})
	require.NoError(t, rootCmd.Execute())
	require.Contains(t, out.String(), "OK: "+a.ID)

	rootCmd.SetArgs([]string{"verify",
		"--id", a.ID, "--tier", "legendary", "--nonce", a.Nonce, "--root", c.Root,
		"--proof", strings.Join(a.Proof, ","),
	})
	require.ErrorIs(t, rootCmd.Execute(), errProofInvalid)
}
