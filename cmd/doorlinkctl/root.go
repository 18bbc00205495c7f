package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "doorlink.toml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "doorlinkctl",
		Short:         "Encrypted KCP session client for doorbell devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "path to doorlink.toml")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newDecryptCmd(),
		newEncryptCmd(),
		newConfigCmd(&cfgPath),
	)
	return root
}
