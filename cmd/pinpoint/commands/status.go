package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/domain"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <peer>",
		Short: "Show conversation state towards a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := domain.UserID(args[0])
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				for _, collapsing := range []bool{false, true} {
					ok, err := a.Conversations.IsConversationInitialized(peer, collapsing)
					if err != nil {
						return err
					}
					inv, err := a.Conversations.ConversationInvitation(peer, collapsing)
					if err != nil {
						return err
					}
					name := "non-collapsing"
					if collapsing {
						name = "collapsing"
					}
					fmt.Fprintf(out, "%-15s initialized=%-5t invitation_pending=%t\n", name, ok, inv != nil)
				}
				return nil
			})
		},
	}
}
