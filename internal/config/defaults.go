package config

import "time"

// ApplyDefaults fills zero-valued fields with the shipped defaults.
// It is called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// ── Listen ──
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.MaxConnections == 0 {
		cfg.Listen.MaxConnections = 1000
	}
	if cfg.Listen.MaxBodySize == 0 {
		cfg.Listen.MaxBodySize = 1048576 // 1MB
	}
	if cfg.Listen.GlobalRateLimit == 0 {
		cfg.Listen.GlobalRateLimit = 5000
	}
	if cfg.Listen.TrustedProxies == nil {
		cfg.Listen.TrustedProxies = []string{}
	}

	// ── Identity ──
	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = "static"
	}
	applyJWTDefaults(&cfg.Identity.JWT)

	// ── Audit ──
	applyAuditDefaults(&cfg.Audit)

	// ── Rate limit ──
	applyRateLimitDefaults(&cfg.RateLimit)

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// ── Health ──
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = "/healthz"
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = "/readyz"
	}
	if cfg.Health.ReadinessMode == "" {
		cfg.Health.ReadinessMode = "all_checks"
	}

	// ── Shutdown ──
	if cfg.Shutdown.Timeout.Duration == 0 {
		cfg.Shutdown.Timeout.Duration = 30 * time.Second
	}
	if cfg.Shutdown.DrainTimeout.Duration == 0 {
		cfg.Shutdown.DrainTimeout.Duration = 15 * time.Second
	}

	// ── Reload ──
	// enabled and watch_file default to true when the block is absent.
	if !cfg.Reload.Enabled && !cfg.Reload.WatchFile && cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Enabled = true
		cfg.Reload.WatchFile = true
	}
	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 2 * time.Second
	}
}

func applyJWTDefaults(j *JWTIdentityConfig) {
	if j.RoleClaim == "" {
		j.RoleClaim = "role"
	}
	if j.OrgClaim == "" {
		j.OrgClaim = "org"
	}
	if j.PermissionsClaim == "" {
		j.PermissionsClaim = "permissions"
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.Backend == "" {
		a.Backend = "memory"
	}
	// log_successes defaults to true. Since Go bool zero value is false, the
	// default is applied only when the whole echo block is zero-valued; set
	// log_successes: false together with a sampling rate to disable explicitly.
	if !a.LogSuccesses && a.SuccessSamplingRate == 0 && a.MaxDetailLogSize == 0 {
		a.LogSuccesses = true
	}
	if a.SuccessSamplingRate == 0 {
		a.SuccessSamplingRate = 0.1
	}
	if a.MaxDetailLogSize == 0 {
		a.MaxDetailLogSize = 512
	}
}

func applyRateLimitDefaults(rl *RateLimitConfig) {
	// enabled defaults to true — same bool-default note as audit.log_successes.
	if !rl.Enabled && rl.PerActorPerMinute == 0 && rl.Burst == 0 {
		rl.Enabled = true
	}
	if rl.PerActorPerMinute == 0 {
		rl.PerActorPerMinute = 120
	}
	if rl.Burst == 0 {
		rl.Burst = 20
	}
	if rl.CleanupInterval.Duration == 0 {
		rl.CleanupInterval.Duration = 5 * time.Minute
	}
}
