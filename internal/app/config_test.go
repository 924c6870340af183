package app_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mizu/internal/app"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := app.LoadConfig("", home)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "mizu.db"), cfg.Store.Path)
	require.Equal(t, filepath.Join(home, "chain.db"), cfg.Chain.Path)
	require.Equal(t, 30*time.Second, time.Duration(cfg.Sync.Interval))
	require.Equal(t, "info", cfg.Logging.Level)

	// Without an address the config is not usable.
	require.Error(t, cfg.Validate())
	cfg.Chain.Address = "tz1alice"
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
path = "/tmp/other.db"

[chain]
address = "tz1alice"

[sync]
interval = "5s"
retryattempts = 5

[logging]
level = "debug"
`), 0o600))

	cfg, err := app.LoadConfig(path, home)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "/tmp/other.db", cfg.Store.Path)
	require.Equal(t, "tz1alice", cfg.Chain.Address)
	require.Equal(t, 5*time.Second, time.Duration(cfg.Sync.Interval))
	require.Equal(t, 5, cfg.Sync.RetryAttempts)
	require.Equal(t, "debug", cfg.Logging.Level)

	bad := []byte("[logging]\nlevel = \"loud\"\n[chain]\naddress = \"tz1x\"")
	require.NoError(t, os.WriteFile(path, bad, 0o600))
	cfg, err = app.LoadConfig(path, home)
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}
