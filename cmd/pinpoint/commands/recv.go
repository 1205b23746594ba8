package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"pinpoint/internal/app"
	"pinpoint/internal/domain"
)

const followPoll = 30 * time.Second

// recv: fetch and decrypt queued messages, then optionally keep following.
func recvCmd() *cobra.Command {
	var (
		follow bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				if err := drain(ctx, a, out, limit); err != nil || !follow {
					return err
				}

				pushes, err := a.Relay.Subscribe(ctx, a.Self)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(followPoll)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case _, ok := <-pushes:
						if !ok {
							if ctx.Err() != nil {
								return nil
							}
							return fmt.Errorf("relay push channel closed")
						}
					case <-ticker.C:
					}
					if err := drain(ctx, a, out, limit); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep waiting for new messages")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum envelopes per fetch (0 for all)")
	return cmd
}

func drain(ctx context.Context, a *app.App, out io.Writer, limit int) error {
	msgs, err := a.Messages.ReceiveMessages(ctx, limit)
	for _, m := range msgs {
		printMessage(out, m)
	}
	return err
}

func printMessage(out io.Writer, m domain.DecryptedMessage) {
	ts := m.MetaInfo.Timestamp.Local().Format(time.TimeOnly)
	switch m.Payload.PayloadType {
	case domain.PayloadTypeTextMessage:
		var tm domain.TextMessage
		if err := json.Unmarshal(m.Payload.Payload, &tm); err == nil {
			fmt.Fprintf(out, "%s [%s] %s\n", ts, m.MetaInfo.SenderID, tm.Text)
			return
		}
	}
	fmt.Fprintf(out, "%s [%s] <%s payload, %d bytes>\n", ts, m.MetaInfo.SenderID, m.Payload.PayloadType, len(m.Payload.Payload))
}
