package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print your safety number",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				id, err := a.Identity()
				if err != nil {
					return err
				}
				sn, err := id.SafetyNumber()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Safety number: %s\n", sn)
				return nil
			})
		},
	}
}
