package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon/httpapi"
	"pkt.systems/fleetcon/internal/appconfig"
	"pkt.systems/pslog"
)

func newBackendCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve a development execution backend that simulates playbook runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Backend.Addr = addr
			}
			serverCfg := toBackendConfig(cfg)
			server := httpapi.NewServer(serverCfg, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			server.SetBaseContext(ctx)
			logger.Info("backend starting", "addr", serverCfg.Addr, "api_root", server.APIRoot(), "auth", serverCfg.APIToken != "")
			return httpapi.ListenAndServe(ctx, serverCfg.Addr, server.Handler())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides backend.addr)")
	return cmd
}

func toBackendConfig(cfg appconfig.Config) httpapi.Config {
	return httpapi.Config{
		Addr:              cfg.Backend.Addr,
		BaseURL:           cfg.Backend.BaseURL,
		BasePath:          cfg.Backend.BasePath,
		APIToken:          cfg.API.APIToken,
		KeepaliveInterval: time.Duration(cfg.Backend.KeepaliveSeconds) * time.Second,
		HandshakeTimeout:  time.Duration(cfg.API.HandshakeTimeoutSeconds) * time.Second,
		LineDelay:         time.Duration(cfg.Backend.LineDelayMS) * time.Millisecond,
		HistoryRuns:       cfg.Backend.HistoryRuns,
		ResultTTL:         time.Duration(cfg.Backend.ResultTTLMinutes) * time.Minute,
	}
}
