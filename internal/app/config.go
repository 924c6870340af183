package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultSyncInterval  = 30 * time.Second
	defaultRetryAttempts = 3
	defaultRetryBase     = 200 * time.Millisecond
)

// Store configures the local database.
type Store struct {
	// Path of the sqlite file. Defaults to <home>/mizu.db.
	Path string
}

// Chain configures the transport. Only the sqlite-backed mock ledger is
// wired here; a real RPC endpoint is a separate binary concern.
type Chain struct {
	// Path of the shared mock ledger database.
	Path string

	// Address this client acts as.
	Address string
}

// Sync configures the driver loop.
type Sync struct {
	// Interval between iterations, e.g. "30s".
	Interval duration

	// RetryAttempts per network operation.
	RetryAttempts int

	// RetryBase is the first backoff step, e.g. "200ms".
	RetryBase duration
}

// Logging configures the logger.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string
}

// Config is the on-disk client configuration.
type Config struct {
	Store   Store
	Chain   Chain
	Sync    Sync
	Logging Logging
}

type duration time.Duration

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// LoadConfig reads the TOML config at path, applying defaults relative to
// home for anything left unset.
func LoadConfig(path, home string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(home, "mizu.db")
	}
	if cfg.Chain.Path == "" {
		cfg.Chain.Path = filepath.Join(home, "chain.db")
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = duration(defaultSyncInterval)
	}
	if cfg.Sync.RetryAttempts <= 0 {
		cfg.Sync.RetryAttempts = defaultRetryAttempts
	}
	if cfg.Sync.RetryBase <= 0 {
		cfg.Sync.RetryBase = duration(defaultRetryBase)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg, nil
}

// Validate checks the assembled configuration after any CLI overrides.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging level %q is not one of debug/info/warn/error", c.Logging.Level)
	}
	if c.Chain.Address == "" {
		return errors.New("chain.address is required")
	}
	return nil
}
