package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/domain"
)

// startSessionCmd performs the handshake against a peer's published keys. The
// invitation rides along with the first message sent afterwards.
func startSessionCmd() *cobra.Command {
	var collapsing bool
	cmd := &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Start a conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := domain.UserID(args[0])
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Conversations.InitConversation(ctx, peer, collapsing); err != nil {
					return fmt.Errorf("starting conversation with %q: %w", peer, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation with %s started (collapsing=%t).\n", peer, collapsing)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&collapsing, "collapsing", false, "use the collapsing conversation")
	return cmd
}
