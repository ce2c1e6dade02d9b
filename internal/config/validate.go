package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cliniguard/cliniguard/internal/actor"
	"github.com/cliniguard/cliniguard/internal/permission"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined message.
func Validate(cfg *Config) error {
	var errs []string

	// ── Ports and limits ──
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535 (got %d)", cfg.Listen.Port))
	}
	if cfg.Listen.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_connections must be positive (got %d)", cfg.Listen.MaxConnections))
	}
	if cfg.Listen.MaxBodySize < 1 {
		errs = append(errs, fmt.Sprintf("listen.max_body_size must be positive (got %d)", cfg.Listen.MaxBodySize))
	}
	if cfg.Listen.GlobalRateLimit < 1 {
		errs = append(errs, fmt.Sprintf("listen.global_rate_limit must be positive (got %d)", cfg.Listen.GlobalRateLimit))
	}

	// ── TLS files ──
	if cfg.Listen.TLS.CertFile != "" {
		if _, err := os.Stat(cfg.Listen.TLS.CertFile); err != nil {
			errs = append(errs, fmt.Sprintf("listen.tls.cert_file: %v", err))
		}
	}
	if cfg.Listen.TLS.KeyFile != "" {
		if _, err := os.Stat(cfg.Listen.TLS.KeyFile); err != nil {
			errs = append(errs, fmt.Sprintf("listen.tls.key_file: %v", err))
		}
	}

	// ── Identity ──
	switch cfg.Identity.Mode {
	case "static":
		validateStaticIdentity(&errs, cfg.Identity.Static)
	case "jwt":
		if cfg.Identity.JWT.JWKSURL == "" {
			errs = append(errs, "identity.jwt.jwks_url is required in jwt mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("identity.mode must be one of: static, jwt (got %q)", cfg.Identity.Mode))
	}

	// ── Audit backend ──
	switch cfg.Audit.Backend {
	case "memory":
	case "sqlite":
		if cfg.Audit.SQLite.Path == "" {
			errs = append(errs, "audit.sqlite.path is required for the sqlite backend")
		}
	case "redis":
		if cfg.Audit.Redis.Addr == "" {
			errs = append(errs, "audit.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.backend must be one of: memory, sqlite, redis (got %q)", cfg.Audit.Backend))
	}
	if cfg.Audit.SuccessSamplingRate < 0 || cfg.Audit.SuccessSamplingRate > 1.0 {
		errs = append(errs, fmt.Sprintf("audit.success_sampling_rate must be between 0.0 and 1.0 (got %f)", cfg.Audit.SuccessSamplingRate))
	}

	// ── Rate limit ──
	if cfg.RateLimit.PerActorPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("rate_limit.per_actor_per_minute must be positive (got %d)", cfg.RateLimit.PerActorPerMinute))
	}
	if cfg.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Sprintf("rate_limit.burst must be positive (got %d)", cfg.RateLimit.Burst))
	}

	// ── Logging ──
	if !isValidLogLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level))
	}
	if !isValidLogFormat(cfg.Logging.Format) {
		errs = append(errs, fmt.Sprintf("logging.format must be one of: json, text (got %q)", cfg.Logging.Format))
	}

	// ── Readiness mode ──
	if !isValidReadinessMode(cfg.Health.ReadinessMode) {
		errs = append(errs, fmt.Sprintf("health.readiness_mode must be one of: all_checks, store_only (got %q)", cfg.Health.ReadinessMode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateStaticIdentity checks the inline actor directory. Roles and
// permission grants are validated here so a malformed directory is caught at
// load time, not mid-request.
func validateStaticIdentity(errs *[]string, static StaticIdentityConfig) {
	if len(static.Actors) == 0 && static.Directory == "" {
		*errs = append(*errs, "identity.static requires at least one actor or a directory file")
	}
	if static.Directory != "" {
		if _, err := os.Stat(static.Directory); err != nil {
			*errs = append(*errs, fmt.Sprintf("identity.static.directory: %v", err))
		}
	}

	seen := make(map[string]bool, len(static.Actors))
	for i, a := range static.Actors {
		if a.ID == "" {
			*errs = append(*errs, fmt.Sprintf("identity.static.actors[%d]: id is required", i))
		} else if seen[a.ID] {
			*errs = append(*errs, fmt.Sprintf("identity.static.actors[%d]: duplicate id %q", i, a.ID))
		} else {
			seen[a.ID] = true
		}
		if _, err := actor.ParseRole(a.Role); err != nil {
			*errs = append(*errs, fmt.Sprintf("identity.static.actors[%d]: %v", i, err))
		}
		for _, p := range a.Permissions {
			if err := permission.ValidatePattern(p); err != nil {
				*errs = append(*errs, fmt.Sprintf("identity.static.actors[%d]: permission %q: %v", i, p, err))
			}
		}
	}
}

func isValidLogLevel(l string) bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(f string) bool {
	switch f {
	case "json", "text":
		return true
	}
	return false
}

func isValidReadinessMode(m string) bool {
	switch m {
	case "all_checks", "store_only":
		return true
	}
	return false
}
