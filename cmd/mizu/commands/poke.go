package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func pokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poke",
		Short: "Discovery requests",
	}

	var identityID int64
	send := &cobra.Command{
		Use:   "send <recipient-address>",
		Short: "Seal your address to a recipient's identity key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Driver.SendDiscovery(cmd.Context(), identityID, args[0]); err != nil {
				return err
			}
			fmt.Println("poked")
			return nil
		},
	}
	send.Flags().Int64Var(&identityID, "identity", 1, "identity whose address is revealed")

	var listIdentityID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "Show discovery senders awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := appCtx.Store.ListPendingContacts(cmd.Context(), listIdentityID)
			if err != nil {
				return err
			}
			for _, addr := range pending {
				fmt.Println(addr)
			}
			return nil
		},
	}
	list.Flags().Int64Var(&listIdentityID, "identity", 1, "identity whose pending list is shown")

	var clearIdentityID int64
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Remove all entries from your on-chain poke list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return appCtx.Driver.ClearPokes(cmd.Context(), clearIdentityID)
		},
	}
	clear.Flags().Int64Var(&clearIdentityID, "identity", 1, "identity whose poke list is cleared")

	cmd.AddCommand(send, list, clear)
	return cmd
}
