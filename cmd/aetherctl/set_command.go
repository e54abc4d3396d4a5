package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aetherlab/aether-go/pkg/model"
)

func newSetCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <engine> <param> <value>",
		Short: "Set an engine parameter or element axis",
		Long: `Set an engine parameter or an elemental bus axis.

Engines: granular, drone, pulse, master.
Elements: set elements <earth|air|water|fire> <value> with value in [-1, 1].`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}

			client, err := cctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			engine := model.Engine(args[0])
			if engine == model.EngineElements {
				err = client.SetElement(cmd.Context(), model.Element(args[1]), value)
			} else {
				err = client.SetParam(cmd.Context(), engine, args[1], value)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %g\n", args[0], args[1], value)
			return nil
		},
	}
	return cmd
}
