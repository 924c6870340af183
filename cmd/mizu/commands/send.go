package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <identity-id> <contact-id> <message>: encrypt and post a message.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <identity-id> <contact-id> <message>",
		Short: "Encrypt a message and post it to your postal box",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := parseID(args[0], "identity")
			if err != nil {
				return err
			}
			contactID, err := parseID(args[1], "contact")
			if err != nil {
				return err
			}
			if err := appCtx.Driver.Send(cmd.Context(), identityID, contactID, []byte(args[2])); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}
