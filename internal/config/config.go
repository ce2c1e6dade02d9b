// Package config handles YAML configuration parsing, defaults, and validation
// for the cliniguard tool-execution gateway.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for cliniguard.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Identity  IdentityConfig  `yaml:"identity"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Health    HealthConfig    `yaml:"health"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
	Reload    ReloadConfig    `yaml:"reload"`
}

// ListenConfig defines the listener address and connection limits.
type ListenConfig struct {
	Host            string    `yaml:"host"`
	Port            int       `yaml:"port"`
	MaxConnections  int       `yaml:"max_connections"`
	MaxBodySize     int       `yaml:"max_body_size"`
	GlobalRateLimit int       `yaml:"global_rate_limit"`
	TrustedProxies  []string  `yaml:"trusted_proxies"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig holds optional TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// IdentityConfig selects and configures the identity provider.
type IdentityConfig struct {
	Mode   string               `yaml:"mode"` // "static" or "jwt"
	Static StaticIdentityConfig `yaml:"static"`
	JWT    JWTIdentityConfig    `yaml:"jwt"`
}

// StaticIdentityConfig is an inline actor directory, optionally extended by a
// YAML directory file with the same actor shape.
type StaticIdentityConfig struct {
	Actors    []ActorConfig `yaml:"actors"`
	Directory string        `yaml:"directory"`
}

// ActorConfig describes one actor in the static directory.
type ActorConfig struct {
	ID           string   `yaml:"id"`
	Role         string   `yaml:"role"`
	Organization string   `yaml:"organization"`
	Token        string   `yaml:"token"`
	Permissions  []string `yaml:"permissions"`
}

// JWTIdentityConfig holds bearer-token validation parameters.
type JWTIdentityConfig struct {
	JWKSURL          string `yaml:"jwks_url"`
	Issuer           string `yaml:"issuer"`
	Audience         string `yaml:"audience"`
	RoleClaim        string `yaml:"role_claim"`
	OrgClaim         string `yaml:"org_claim"`
	PermissionsClaim string `yaml:"permissions_claim"`
}

// AuditConfig selects the audit store backend and the log echo behavior. The
// durable store always receives every record; sampling applies to the slog
// echo only.
type AuditConfig struct {
	Backend             string            `yaml:"backend"` // "memory", "sqlite", "redis"
	SQLite              SQLiteAuditConfig `yaml:"sqlite"`
	Redis               RedisAuditConfig  `yaml:"redis"`
	LogSuccesses        bool              `yaml:"log_successes"`
	SuccessSamplingRate float64           `yaml:"success_sampling_rate"`
	MaxDetailLogSize    int               `yaml:"max_detail_log_size"`
}

// SQLiteAuditConfig holds the file-backed audit store settings.
type SQLiteAuditConfig struct {
	Path string `yaml:"path"`
}

// RedisAuditConfig holds the Redis Streams audit store settings.
type RedisAuditConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

// RateLimitConfig defines per-actor rate limiting with burst and cleanup.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	PerActorPerMinute int      `yaml:"per_actor_per_minute"`
	Burst             int      `yaml:"burst"`
	CleanupInterval   Duration `yaml:"cleanup_interval"`
}

// LoggingConfig defines log output format and verbosity.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HealthConfig defines health check endpoint paths and readiness behavior.
type HealthConfig struct {
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
	ReadinessMode string `yaml:"readiness_mode"` // "all_checks" or "store_only"
}

// ShutdownConfig defines graceful shutdown and drain timeouts.
type ShutdownConfig struct {
	Timeout      Duration `yaml:"timeout"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// ReloadConfig controls config hot-reload behavior (SIGHUP and file watching).
type ReloadConfig struct {
	Enabled   bool     `yaml:"enabled"`
	WatchFile bool     `yaml:"watch_file"`
	Debounce  Duration `yaml:"debounce"`
}

// Duration is a time.Duration that supports YAML string parsing (e.g., "60s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration, parsing strings like "60s" or "5m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Load reads, parses, applies defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
