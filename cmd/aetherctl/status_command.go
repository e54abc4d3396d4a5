package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}

			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Firmware:     %s\n", status.Firmware)
			fmt.Fprintf(out, "Uptime:       %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			fmt.Fprintf(out, "Audio CPU:    %.0f%%\n", status.AudioCPU*100)
			fmt.Fprintf(out, "XRuns:        %d\n", status.XRuns)
			if status.ActiveScene != "" {
				fmt.Fprintf(out, "Active scene: %s\n", status.ActiveScene)
			}
			fmt.Fprintf(out, "Sessions:     %d\n", status.Sessions)
			return nil
		},
	}
}
