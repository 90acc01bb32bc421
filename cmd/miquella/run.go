package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TymurD/miquella/internal/miquella/app"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat platform and start answering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, app.Options{
				ConfigPath: root.path(),
				Platform:   platform,
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", app.PlatformMatrix, "Chat platform: matrix or console")
	return cmd
}
