// Package config loads the chanbridge configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/chanbridge/internal/audit"
	"github.com/haasonsaas/chanbridge/internal/observability"
	"github.com/haasonsaas/chanbridge/internal/ratelimit"
)

// Config is the main configuration structure for chanbridge.
type Config struct {
	Version      int                       `yaml:"version"`
	Server       ServerConfig              `yaml:"server"`
	Database     DatabaseConfig            `yaml:"database"`
	ChannelsFile ChannelsFileConfig        `yaml:"channels_file"`
	Auth         AuthConfig                `yaml:"auth"`
	Bridge       BridgeConfig              `yaml:"bridge"`
	Logging      observability.LogConfig   `yaml:"logging"`
	Audit        audit.Config              `yaml:"audit"`
	Tracing      observability.TraceConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsPath       string        `yaml:"metrics_path"`

	// StateDir holds the instance lock file. Defaults to the system temp dir.
	StateDir string `yaml:"state_dir"`

	// AllowMultiple skips the instance lock. Each process keeps its own
	// connection registry, so two processes serving the same channels can
	// each admit an agent.
	AllowMultiple bool `yaml:"allow_multiple"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

type DatabaseConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// ChannelsFileConfig points at an optional YAML channel source that replaces
// the database channel table.
type ChannelsFileConfig struct {
	Path          string        `yaml:"path"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type AuthConfig struct {
	// AdminTokenSecret enables one-time admin tokens when set.
	AdminTokenSecret string        `yaml:"admin_token_secret"`
	AdminTokenTTL    time.Duration `yaml:"admin_token_ttl"`
}

// BridgeConfig holds the connection protocol limits.
type BridgeConfig struct {
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
	MaxAuthAttempts      int           `yaml:"max_auth_attempts"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MaxFrameBytes        int64         `yaml:"max_frame_bytes"`
	MaxBufferedBytes     int           `yaml:"max_buffered_bytes"`
	HistoryDefaultLimit  int           `yaml:"history_default_limit"`
	HistoryMaxLimit      int           `yaml:"history_max_limit"`
	UpstreamDialTimeout  time.Duration `yaml:"upstream_dial_timeout"`
	UpstreamDialAttempts int           `yaml:"upstream_dial_attempts"`

	// ConnectRateLimit throttles upgrade attempts per client address.
	ConnectRateLimit ratelimit.Config `yaml:"connect_rate_limit"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion, Audit: audit.DefaultConfig()}
	applyDefaults(cfg)
	return cfg
}

// Load reads, merges and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	auditSet := hasKey(raw, "audit")
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if !auditSet {
		cfg.Audit = audit.DefaultConfig()
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasKey(raw map[string]any, key string) bool {
	_, ok := raw[key]
	return ok
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.ChannelsFile.WatchDebounce == 0 {
		cfg.ChannelsFile.WatchDebounce = 250 * time.Millisecond
	}

	if cfg.Auth.AdminTokenTTL == 0 {
		cfg.Auth.AdminTokenTTL = 5 * time.Minute
	}

	b := &cfg.Bridge
	if b.AuthTimeout == 0 {
		b.AuthTimeout = 30 * time.Second
	}
	if b.MaxAuthAttempts == 0 {
		b.MaxAuthAttempts = 3
	}
	if b.KeepaliveInterval == 0 {
		b.KeepaliveInterval = 30 * time.Second
	}
	if b.WriteTimeout == 0 {
		b.WriteTimeout = 10 * time.Second
	}
	if b.MaxFrameBytes == 0 {
		b.MaxFrameBytes = 1 << 20
	}
	if b.MaxBufferedBytes == 0 {
		b.MaxBufferedBytes = 1 << 20
	}
	if b.HistoryDefaultLimit == 0 {
		b.HistoryDefaultLimit = 50
	}
	if b.HistoryMaxLimit == 0 {
		b.HistoryMaxLimit = 200
	}
	if b.UpstreamDialTimeout == 0 {
		b.UpstreamDialTimeout = 10 * time.Second
	}
	if b.UpstreamDialAttempts == 0 {
		b.UpstreamDialAttempts = 3
	}
	defaultRate := ratelimit.DefaultConfig()
	if b.ConnectRateLimit.RequestsPerSecond == 0 {
		b.ConnectRateLimit.RequestsPerSecond = defaultRate.RequestsPerSecond
	}
	if b.ConnectRateLimit.BurstSize == 0 {
		b.ConnectRateLimit.BurstSize = defaultRate.BurstSize
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "chanbridge"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535"))
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("server.metrics_path must start with /"))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "memory", "sqlite":
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Database.URL) == "" {
			errs = append(errs, fmt.Errorf("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, sqlite, postgres", c.Database.Driver))
	}

	b := c.Bridge
	if b.AuthTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge.auth_timeout must be positive"))
	}
	if b.MaxAuthAttempts < 1 {
		errs = append(errs, fmt.Errorf("bridge.max_auth_attempts must be at least 1"))
	}
	if b.KeepaliveInterval < 0 || b.WriteTimeout < 0 || b.UpstreamDialTimeout < 0 {
		errs = append(errs, fmt.Errorf("bridge durations must not be negative"))
	}
	if b.MaxFrameBytes < 126 {
		errs = append(errs, fmt.Errorf("bridge.max_frame_bytes must be at least 126"))
	}
	if int64(b.MaxBufferedBytes) < b.MaxFrameBytes {
		errs = append(errs, fmt.Errorf("bridge.max_buffered_bytes must be at least bridge.max_frame_bytes"))
	}
	if b.HistoryDefaultLimit < 1 || b.HistoryMaxLimit < b.HistoryDefaultLimit {
		errs = append(errs, fmt.Errorf("bridge.history_default_limit must be between 1 and bridge.history_max_limit"))
	}
	if b.UpstreamDialAttempts < 1 {
		errs = append(errs, fmt.Errorf("bridge.upstream_dial_attempts must be at least 1"))
	}
	if b.ConnectRateLimit.RequestsPerSecond < 0 || b.ConnectRateLimit.BurstSize < 0 {
		errs = append(errs, fmt.Errorf("bridge.connect_rate_limit values must not be negative"))
	}

	if c.Auth.AdminTokenSecret != "" && len(c.Auth.AdminTokenSecret) < 16 {
		errs = append(errs, fmt.Errorf("auth.admin_token_secret must be at least 16 characters"))
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampling_rate must be between 0 and 1"))
	}
	return errors.Join(errs...)
}
