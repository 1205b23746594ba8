package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Publish your handshake keys to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := a.Identity()
				if err != nil {
					return err
				}
				keys, err := a.Prekeys.Publish(ctx, id.Signer())
				if err != nil {
					return err
				}
				sn, err := id.SafetyNumber()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Published keys with %d one-time prekeys.\n", len(keys.OneTimePrekeys))
				fmt.Fprintf(out, "Safety number: %s\n", sn)
				return nil
			})
		},
	}
}
