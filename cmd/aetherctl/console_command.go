package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aetherlab/aether-go/cmd/aetherctl/interactive"
)

func newConsoleCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactive console for a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := cctx.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			console, err := interactive.New(client)
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			console.Run(runCtx, cancel)
			return nil
		},
	}
}
