package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func prekeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prekey",
		Short: "Manage the signed prekey",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rotate <identity-id>",
		Short: "Publish a fresh signed prekey, keeping the previous one readable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("identity id: %w", err)
			}
			if err := appCtx.Driver.RotatePrekey(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println("prekey rotated")
			return nil
		},
	})
	return cmd
}
