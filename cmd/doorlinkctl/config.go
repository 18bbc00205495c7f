package main

import (
	"fmt"

	"github.com/danmuck/doorlink/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate configuration files",
	}

	var (
		output string
		kind   string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = *cfgPath
				if kind == "keys" {
					target = "keys.toml"
				}
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&output, "output", "", "output path (defaults to --config, or keys.toml for --kind keys)")
	initCmd.Flags().StringVar(&kind, "kind", "doorlink", "template kind: doorlink|keys")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var input string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := input
			if path == "" {
				path = *cfgPath
			}
			file, err := config.Load(path)
			if err != nil {
				return err
			}
			svcCfg, err := file.ServiceConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s (device %s)\n", path, svcCfg.Endpoint)
			return nil
		},
	}
	validateCmd.Flags().StringVar(&input, "input", "", "config path (defaults to --config)")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
