package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	API           APIConfig     `mapstructure:"api" yaml:"api"`
	Console       ConsoleConfig `mapstructure:"console" yaml:"console"`
	Backend       BackendConfig `mapstructure:"backend" yaml:"backend"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// APIConfig points the console at the execution API.
type APIConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIToken is sent as X-Token and, when AuthQueryParam is set, on the
	// subscription URL.
	APIToken                string         `mapstructure:"api_token" yaml:"api_token"`
	AuthQueryParam          string         `mapstructure:"auth_query_param" yaml:"auth_query_param"`
	SubscribePath           string         `mapstructure:"subscribe_path" yaml:"subscribe_path"`
	TimeoutSeconds          int            `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	HandshakeTimeoutSeconds int            `mapstructure:"handshake_timeout_seconds" yaml:"handshake_timeout_seconds"`
	Breaker                 BreakerConfig  `mapstructure:"breaker" yaml:"breaker"`
	Geometry                GeometryConfig `mapstructure:"geometry" yaml:"geometry"`
}

// BreakerConfig configures the REST circuit breaker.
type BreakerConfig struct {
	MaxFailures     uint32 `mapstructure:"max_failures" yaml:"max_failures"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	IntervalSeconds int    `mapstructure:"interval_seconds" yaml:"interval_seconds"`
}

// GeometryConfig bounds terminal geometry reports.
type GeometryConfig struct {
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// ConsoleConfig controls the terminal console.
type ConsoleConfig struct {
	DefaultKey     string `mapstructure:"default_key" yaml:"default_key"`
	NoColor        bool   `mapstructure:"no_color" yaml:"no_color"`
	ReportGeometry bool   `mapstructure:"report_geometry" yaml:"report_geometry"`
}

// BackendConfig configures the development execution backend.
type BackendConfig struct {
	Addr             string `mapstructure:"addr" yaml:"addr"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	BasePath         string `mapstructure:"base_path" yaml:"base_path"`
	KeepaliveSeconds int    `mapstructure:"keepalive_seconds" yaml:"keepalive_seconds"`
	LineDelayMS      int    `mapstructure:"line_delay_ms" yaml:"line_delay_ms"`
	HistoryRuns      int    `mapstructure:"history_runs" yaml:"history_runs"`
	ResultTTLMinutes int    `mapstructure:"result_ttl_minutes" yaml:"result_ttl_minutes"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() (Config, error) {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		API: APIConfig{
			BaseURL:                 "http://127.0.0.1:27490",
			APIToken:                "",
			AuthQueryParam:          "x-token",
			SubscribePath:           "/ws/subscribe",
			TimeoutSeconds:          15,
			HandshakeTimeoutSeconds: 15,
			Breaker: BreakerConfig{
				MaxFailures:     5,
				TimeoutSeconds:  30,
				IntervalSeconds: 60,
			},
			Geometry: GeometryConfig{
				PerSecond: 2,
				Burst:     1,
			},
		},
		Console: ConsoleConfig{
			DefaultKey:     "",
			NoColor:        false,
			ReportGeometry: true,
		},
		Backend: BackendConfig{
			Addr:             ":27490",
			BaseURL:          "",
			BasePath:         "",
			KeepaliveSeconds: 10,
			LineDelayMS:      150,
			HistoryRuns:      50,
			ResultTTLMinutes: 60,
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".fleetcon", "config.yaml"), nil
}
