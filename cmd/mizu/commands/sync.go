package commands

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// sync runs one fetch/apply/post iteration, or loops with --watch.
func syncCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch new postal-box entries and deliver queued messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				return appCtx.Driver.SyncOnce(cmd.Context())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err := appCtx.Driver.Run(ctx, time.Duration(appCtx.Config.Sync.Interval))
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing on the configured interval")
	return cmd
}
