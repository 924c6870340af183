package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <identity-id> <contact-id>",
		Short: "Show the conversation history with a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := parseID(args[0], "identity")
			if err != nil {
				return err
			}
			contactID, err := parseID(args[1], "contact")
			if err != nil {
				return err
			}
			msgs, err := appCtx.Store.ListMessages(cmd.Context(), identityID, contactID)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				dir := "<-"
				if m.Outbound {
					dir = "->"
				}
				ts := time.UnixMilli(m.Timestamp).Format(time.RFC3339)
				fmt.Printf("%s %s %s\n", ts, dir, m.Content)
			}
			return nil
		},
	}
}
