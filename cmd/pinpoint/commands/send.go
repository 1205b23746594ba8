package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/domain"
)

// send <peer...> <message>: encrypt once and send to every peer.
func sendCmd() *cobra.Command {
	var (
		collapsing bool
		collapseID string
	)
	cmd := &cobra.Command{
		Use:   "send <peer>... <message>",
		Short: "Encrypt and send a message to one or more peers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peers := make([]domain.UserID, 0, len(args)-1)
			for _, p := range args[:len(args)-1] {
				peers = append(peers, domain.UserID(p))
			}
			text := args[len(args)-1]

			var cid *domain.CollapseID
			if collapsing || cmd.Flags().Changed("collapse-id") {
				c := domain.CollapseID(collapseID)
				cid = &c
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Messages.SendText(ctx, peers, text, cid); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sent")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&collapsing, "collapsing", false, "send over the collapsing conversation")
	cmd.Flags().StringVar(&collapseID, "collapse-id", "latest", "collapse id for collapsing messages")
	return cmd
}
