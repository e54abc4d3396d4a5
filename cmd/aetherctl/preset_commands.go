package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPresetCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage device presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}

			presets, err := client.ListPresets(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(presets) == 0 {
				fmt.Fprintln(out, "No presets")
				return nil
			}
			fmt.Fprintf(out, "%-12s %s\n", "ID", "NAME")
			for _, p := range presets {
				fmt.Fprintf(out, "%-12s %s\n", p.ID, p.Name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply <id>",
		Short: "Load a preset into the running engines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.ApplyPreset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied preset %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.DeletePreset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newSceneCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Manage device scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored scenes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}

			scenes, err := client.ListScenes(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(scenes) == 0 {
				fmt.Fprintln(out, "No scenes")
				return nil
			}
			fmt.Fprintf(out, "%-12s %-20s %s\n", "ID", "NAME", "DESCRIPTION")
			for _, s := range scenes {
				fmt.Fprintf(out, "%-12s %-20s %s\n", s.ID, s.Name, s.Description)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "apply <id>",
		Short: "Activate a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cctx.restClient(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.ApplyScene(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied scene %s\n", args[0])
			return nil
		},
	})

	return cmd
}
