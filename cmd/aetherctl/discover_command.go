package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aetherlab/aether-go/pkg/discovery"
)

func newDiscoverCommand(cctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find Aether devices on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			browser := discovery.NewBrowser(discovery.DefaultBrowserConfig())
			results, err := browser.Browse(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-20s %-10s %-14s %-10s %s\n",
				"NAME", "MODEL", "FIRMWARE", "PORT", "ADDRESSES")

			count := 0
			for dev := range results {
				count++
				fmt.Fprintf(out, "%-20s %-10s %-14s %-10d %s\n",
					dev.Name, dev.Model, dev.Firmware, dev.Port,
					strings.Join(dev.Addresses, ", "))
			}

			if count == 0 {
				fmt.Fprintln(out, "No devices found")
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "How long to browse")
	return cmd
}
