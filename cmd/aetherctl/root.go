package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var endpointFlag string
	var configFlag string
	var deviceFlag string
	var apiFlag string

	ctx := newCommandContext(&endpointFlag, &configFlag, &deviceFlag, &apiFlag)

	rootCmd := &cobra.Command{
		Use:           "aetherctl",
		Short:         "Control Aether ambient audio devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&endpointFlag, "endpoint", "e", "", "Device endpoint (tcp://, tls://, ws://, wss://)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Device name to discover via mDNS")
	rootCmd.PersistentFlags().StringVar(&apiFlag, "api", "", "Device HTTP API base URL")

	rootCmd.AddCommand(newDiscoverCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newSetCommand(ctx))
	rootCmd.AddCommand(newPresetCommand(ctx))
	rootCmd.AddCommand(newSceneCommand(ctx))
	rootCmd.AddCommand(newConsoleCommand(ctx))
	rootCmd.AddCommand(newLogCommand(ctx))

	return rootCmd
}
