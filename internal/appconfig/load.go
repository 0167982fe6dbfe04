package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.api_token", cfg.API.APIToken)
	v.SetDefault("api.auth_query_param", cfg.API.AuthQueryParam)
	v.SetDefault("api.subscribe_path", cfg.API.SubscribePath)
	v.SetDefault("api.timeout_seconds", cfg.API.TimeoutSeconds)
	v.SetDefault("api.handshake_timeout_seconds", cfg.API.HandshakeTimeoutSeconds)
	v.SetDefault("api.breaker.max_failures", cfg.API.Breaker.MaxFailures)
	v.SetDefault("api.breaker.timeout_seconds", cfg.API.Breaker.TimeoutSeconds)
	v.SetDefault("api.breaker.interval_seconds", cfg.API.Breaker.IntervalSeconds)
	v.SetDefault("api.geometry.per_second", cfg.API.Geometry.PerSecond)
	v.SetDefault("api.geometry.burst", cfg.API.Geometry.Burst)
	v.SetDefault("console.default_key", cfg.Console.DefaultKey)
	v.SetDefault("console.no_color", cfg.Console.NoColor)
	v.SetDefault("console.report_geometry", cfg.Console.ReportGeometry)
	v.SetDefault("backend.addr", cfg.Backend.Addr)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.base_path", cfg.Backend.BasePath)
	v.SetDefault("backend.keepalive_seconds", cfg.Backend.KeepaliveSeconds)
	v.SetDefault("backend.line_delay_ms", cfg.Backend.LineDelayMS)
	v.SetDefault("backend.history_runs", cfg.Backend.HistoryRuns)
	v.SetDefault("backend.result_ttl_minutes", cfg.Backend.ResultTTLMinutes)
	v.SetDefault("logging.disable_audit_trails", cfg.Logging.DisableAuditTrails)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.IsSet("api.ws_url") {
			return Config{}, fmt.Errorf("api.ws_url is not supported; the subscription URL is derived from api.base_url")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateAPIConfig(cfg.API); err != nil {
		return Config{}, err
	}
	if err := validateBackendConfig(cfg.Backend); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateAPIConfig(cfg APIConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("api.base_url must include an http(s) scheme and host (e.g. https://ops.example.com)")
	}
	if path := strings.TrimSpace(cfg.SubscribePath); path != "" && !strings.HasPrefix(path, "/") {
		return fmt.Errorf("api.subscribe_path must start with /")
	}
	if cfg.TimeoutSeconds < 0 || cfg.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("api timeouts must not be negative")
	}
	return nil
}

func validateBackendConfig(cfg BackendConfig) error {
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("backend.base_url must include an http(s) scheme and host")
		}
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("backend.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("backend.base_path must not include query or fragment")
		}
	}
	if cfg.KeepaliveSeconds < 0 || cfg.LineDelayMS < 0 {
		return fmt.Errorf("backend intervals must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.API.BaseURL = expandEnv(cfg.API.BaseURL)
	cfg.API.APIToken = expandEnv(cfg.API.APIToken)
	cfg.Backend.Addr = expandEnv(cfg.Backend.Addr)
	cfg.Backend.BaseURL = expandEnv(cfg.Backend.BaseURL)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
