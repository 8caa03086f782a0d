package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chunkwise/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := notifications.NewService(ctx.configValue())
			out := cmd.OutOrStdout()
			if !svc.Enabled() {
				fmt.Fprintln(out, "Notifications disabled (set notifications.ntfy_topic)")
				return nil
			}
			if err := svc.Publish(cmd.Context(), notifications.EventTest, notifications.Payload{}); err != nil {
				return err
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}
