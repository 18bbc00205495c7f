package main

import (
	"github.com/danmuck/doorlink/internal/config"
	"github.com/danmuck/doorlink/internal/doorbell"
	"github.com/danmuck/doorlink/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep a session to the configured doorbell until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			file, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			svcCfg, err := file.ServiceConfig()
			if err != nil {
				return err
			}
			svc, err := doorbell.NewService(svcCfg)
			if err != nil {
				return err
			}
			log.Info().
				Str("config", *cfgPath).
				Str("endpoint", svcCfg.Endpoint.String()).
				Str("admin", svcCfg.Admin.ListenAddr).
				Msg("doorlinkctl.run starting")
			return svc.Run()
		},
	}
}
