package main

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/fleetcon"
	"pkt.systems/fleetcon/core"
	"pkt.systems/fleetcon/internal/appconfig"
	"pkt.systems/fleetcon/internal/format"
	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/schema"
	"pkt.systems/pslog"
)

// clientFlags are shared by every command talking to the execution API.
type clientFlags struct {
	cfgPath            string
	baseURL            string
	apiToken           string
	defaultKey         string
	noColor            bool
	noGeometry         bool
	disableAuditTrails bool
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "execution API base URL (overrides api.base_url)")
	cmd.Flags().StringVar(&f.apiToken, "api-token", "", "execution API token (overrides api.api_token)")
}

func (f *clientFlags) bindConsole(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.defaultKey, "default-key", "", "key shown first (overrides console.default_key)")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "strip colors from output")
	cmd.Flags().BoolVar(&f.noGeometry, "no-geometry", false, "do not report the terminal size to the API")
	cmd.Flags().BoolVar(&f.disableAuditTrails, "disable-audit-trails", false, "disable audit trail logging for commands")
}

func (f *clientFlags) load() (appconfig.Config, error) {
	cfg, err := appconfig.Load(f.cfgPath)
	if err != nil {
		return appconfig.Config{}, err
	}
	if v := strings.TrimSpace(f.baseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(f.apiToken); v != "" {
		cfg.API.APIToken = v
	}
	if v := strings.TrimSpace(f.defaultKey); v != "" {
		cfg.Console.DefaultKey = v
	}
	if f.noColor {
		cfg.Console.NoColor = true
	}
	if f.noGeometry {
		cfg.Console.ReportGeometry = false
	}
	if f.disableAuditTrails {
		cfg.Logging.DisableAuditTrails = true
	}
	return cfg, nil
}

func toAPIConfig(cfg appconfig.APIConfig) fleetcon.APIConfig {
	return fleetcon.APIConfig{
		BaseURL:          cfg.BaseURL,
		APIToken:         cfg.APIToken,
		AuthQueryParam:   cfg.AuthQueryParam,
		SubscribePath:    cfg.SubscribePath,
		Timeout:          time.Duration(cfg.TimeoutSeconds) * time.Second,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutSeconds) * time.Second,
		Breaker: jobapi.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
			Interval:    time.Duration(cfg.Breaker.IntervalSeconds) * time.Second,
		},
		GeometryPerSecond: cfg.Geometry.PerSecond,
		GeometryBurst:     cfg.Geometry.Burst,
	}
}

func toConsoleConfig(cfg appconfig.Config) fleetcon.ConsoleConfig {
	return fleetcon.ConsoleConfig{
		API:                 toAPIConfig(cfg.API),
		DefaultKey:          schema.StreamKey(cfg.Console.DefaultKey),
		Style:               format.Style{Color: !cfg.Console.NoColor},
		DisableAuditLogging: cfg.Logging.DisableAuditTrails,
	}
}

func newAPIClient(cfg appconfig.Config, logger pslog.Logger) (*jobapi.Client, error) {
	api := toAPIConfig(cfg.API)
	return jobapi.New(jobapi.Config{
		BaseURL:           api.BaseURL,
		APIToken:          api.APIToken,
		Timeout:           api.Timeout,
		Breaker:           api.Breaker,
		GeometryPerSecond: api.GeometryPerSecond,
		GeometryBurst:     api.GeometryBurst,
		Logger:            logger,
	})
}

func newConsole(cfg appconfig.Config, sink core.Sink, out io.Writer, logger pslog.Logger) (*fleetcon.Console, error) {
	var opts []fleetcon.ConsoleOption
	if cfg.Console.ReportGeometry {
		opts = append(opts, fleetcon.WithGeometryReporting())
	}
	return fleetcon.NewConsole(toConsoleConfig(cfg), fleetcon.ConsoleDeps{
		Sink:   sink,
		Out:    out,
		Logger: logger,
	}, opts...)
}
