package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mizu/internal/chain"
	"mizu/internal/chain/mock"
	"mizu/internal/driver"
	"mizu/internal/store"
)

// App bundles everything a command needs.
type App struct {
	Config *Config
	Log    *zap.Logger
	Store  *store.Store
	Driver *driver.Driver
}

// New constructs the dependency graph from cfg. passphrase protects key
// material and session blobs at rest.
func New(cfg *Config, passphrase string) (*App, error) {
	log, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Path, passphrase)
	if err != nil {
		return nil, err
	}
	dial := chain.DialFunc(func(address string) (chain.Chain, error) {
		return mock.Open(cfg.Chain.Path, address)
	})
	drv := driver.New(st, dial, log, driver.Options{
		RetryAttempts: cfg.Sync.RetryAttempts,
		RetryBase:     time.Duration(cfg.Sync.RetryBase),
	})
	return &App{Config: cfg, Log: log, Store: st, Driver: drv}, nil
}

// Close flushes the logger and releases the store.
func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.Store.Close()
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	return cfg.Build()
}
