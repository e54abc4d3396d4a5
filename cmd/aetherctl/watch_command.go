package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/telemetry"
)

func newWatchCommand(cctx *commandContext) *cobra.Command {
	var rate time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail live telemetry from the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := cctx.openClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			stream, err := client.Subscribe(ctx, rate)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for {
				snap, err := stream.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, telemetry.ErrStreamClosed) {
						return nil
					}
					return err
				}
				printSnapshot(out, snap)
			}
		},
	}

	cmd.Flags().DurationVarP(&rate, "rate", "r", 0, "Telemetry rate (default from config)")
	return cmd
}

func printSnapshot(out io.Writer, snap telemetry.Snapshot) {
	line := fmt.Sprintf("[%s] #%d  %.1f°C  %.0f%%RH  %.0fhPa  CO2 %.0fppm  cpu %.0f%%",
		snap.Time.Format("15:04:05"),
		snap.Seq,
		snap.Sensors.Temperature,
		snap.Sensors.Humidity,
		snap.Sensors.Pressure,
		snap.Sensors.CO2,
		snap.Audio.CPU*100)

	if len(snap.Elements) == model.ElementCount {
		line += fmt.Sprintf("  [earth %+.2f air %+.2f water %+.2f fire %+.2f]",
			snap.Elements[model.ElementEarth],
			snap.Elements[model.ElementAir],
			snap.Elements[model.ElementWater],
			snap.Elements[model.ElementFire])
	}
	if snap.Dropped > 0 {
		line += fmt.Sprintf("  (%d dropped)", snap.Dropped)
	}
	fmt.Fprintln(out, line)
}
