package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/iwanhae/tcp-guard/types"
)

func TestPrintBans(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bans := []*types.Ban{
		{IP: "10.0.0.1", Reason: types.ReasonRateLimit, At: now.Add(-2 * time.Minute), Until: now.Add(-time.Minute)},
		{IP: "10.0.0.2", Reason: types.ReasonTraffic, At: now.Add(-10 * time.Second), Until: now.Add(50 * time.Second)},
	}

	var buf bytes.Buffer
	require.NoError(t, printBans(&buf, bans, now))
	out := buf.String()
	require.Contains(t, out, "10.0.0.1  rate_limit")
	require.Contains(t, out, "10.0.0.2  traffic")
	require.Contains(t, out, "yes")

	buf.Reset()
	require.NoError(t, printBans(&buf, nil, now))
	require.Equal(t, "no blocks recorded\n", buf.String())
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "tcp-guard"}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", "0.0.0.0:9999", "")
	f.IntVar(&rateLimit, "rate-limit", 10, "")
	f.DurationVar(&timeWindow, "time-window", 10*time.Second, "")
	return cmd
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "tcp-guard.toml")
	t.Cleanup(func() { configPath = "tcp-guard.toml" })
	require.NoError(t, os.WriteFile(configPath, []byte("rate_limit = 4\ntime_window_seconds = 3\n"), 0o644))

	cmd := testCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--rate-limit", "7"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.RateLimit)
	require.Equal(t, 3*time.Second, cfg.TimeWindow)
	require.Equal(t, "0.0.0.0:9999", cfg.Listen)
}

func TestOpenBanLog(t *testing.T) {
	null, err := openBanLog("")
	require.NoError(t, err)
	require.NoError(t, null.Close())

	db, err := openBanLog(filepath.Join(t.TempDir(), "bans.db"))
	require.NoError(t, err)
	require.NoError(t, db.SaveBan(&types.Ban{IP: "10.0.0.1", Reason: types.ReasonTraffic, At: time.Now(), Until: time.Now()}))
	bans, err := db.ListBans(10)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.NoError(t, db.Close())
}
