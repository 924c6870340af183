package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mizu/internal/app"
)

var (
	home       string
	configPath string
	passphrase string
	address    string

	appCtx *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:           "mizu",
		Short:         "Asynchronous end-to-end encrypted messaging over a public postal box",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".mizu")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if configPath == "" {
				if _, err := os.Stat(filepath.Join(home, "config.toml")); err == nil {
					configPath = filepath.Join(home, "config.toml")
				}
			}
			cfg, err := app.LoadConfig(configPath, home)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Chain.Address = address
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			appCtx, err = app.New(cfg, passphrase)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appCtx != nil {
				return appCtx.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.mizu)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local key material")
	root.PersistentFlags().StringVar(&address, "address", "", "chain address override")

	root.AddCommand(
		initCmd(), identitiesCmd(), prekeyCmd(), fingerprintCmd(),
		contactCmd(), sendCmd(), syncCmd(), messagesCmd(), pokeCmd(),
	)
	return root.Execute()
}
