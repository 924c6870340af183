package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mizu/internal/crypto"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <name>",
		Short: "Generate an identity and register it on the chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := appCtx.Driver.RegisterIdentity(cmd.Context(), args[0], appCtx.Config.Chain.Address)
			if err != nil {
				return err
			}
			fmt.Printf("Identity #%d created for %s.\nFingerprint: %s\n",
				id.ID, id.Address, crypto.Fingerprint(id.IdentityKey.Pub.Slice()))
			return nil
		},
	}
}

func identitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identities",
		Short: "List local identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := appCtx.Store.ListIdentities(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Printf("%d\t%s\t%s\n", id.ID, id.Name, id.Address)
			}
			return nil
		},
	}
}
