package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func contactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage contacts",
	}

	var identityID int64
	add := &cobra.Command{
		Use:   "add <name> <address>",
		Short: "Add a contact and pin its published keys",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := appCtx.Driver.AddContact(cmd.Context(), identityID, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("contact #%d added\n", c.ID)
			return nil
		},
	}
	add.Flags().Int64Var(&identityID, "identity", 1, "identity that fetches the contact's keys")

	list := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := appCtx.Store.ListContacts(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cs {
				fmt.Printf("%d\t%s\t%s\n", c.ID, c.Name, c.Address)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s id: %w", what, err)
	}
	return id, nil
}
