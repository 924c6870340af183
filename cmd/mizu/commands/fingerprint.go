package commands

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mizu/internal/crypto"
)

// fingerprint prints the identity key fingerprint and its address-binding
// signature so peers can verify the pairing out of band.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <identity-id>",
		Short: "Show an identity's key fingerprint and address binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rowID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("identity id: %w", err)
			}
			id, err := appCtx.Store.FindIdentity(cmd.Context(), rowID)
			if err != nil {
				return err
			}
			sig := crypto.SignAddrBind(id.SigningPriv, id.Address, id.IdentityKey.Pub)
			fmt.Printf("Address:     %s\n", id.Address)
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(id.IdentityKey.Pub.Slice()))
			fmt.Printf("Binding:     %s\n", base64.StdEncoding.EncodeToString(sig))
			return nil
		},
	}
}
