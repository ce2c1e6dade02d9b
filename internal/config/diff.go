package config

import (
	"fmt"
	"reflect"
)

// Change describes a single configuration field that differs between two configs.
type Change struct {
	Field      string      // dot-separated field path (e.g., "rate_limit.per_actor_per_minute")
	OldValue   interface{} // previous value
	NewValue   interface{} // new value
	Reloadable bool        // whether this change can be applied without restart
}

// Diff compares two Config values and returns a list of changes.
// Each change is annotated with whether it is reloadable at runtime.
func Diff(old, new *Config) []Change {
	var changes []Change

	// ── Non-reloadable: listen ──
	diffField(&changes, "listen.host", old.Listen.Host, new.Listen.Host, false)
	diffField(&changes, "listen.port", old.Listen.Port, new.Listen.Port, false)
	diffField(&changes, "listen.max_connections", old.Listen.MaxConnections, new.Listen.MaxConnections, false)
	diffField(&changes, "listen.max_body_size", old.Listen.MaxBodySize, new.Listen.MaxBodySize, false)
	diffField(&changes, "listen.global_rate_limit", old.Listen.GlobalRateLimit, new.Listen.GlobalRateLimit, false)
	diffField(&changes, "listen.tls.cert_file", old.Listen.TLS.CertFile, new.Listen.TLS.CertFile, false)
	diffField(&changes, "listen.tls.key_file", old.Listen.TLS.KeyFile, new.Listen.TLS.KeyFile, false)
	diffStringSlice(&changes, "listen.trusted_proxies", old.Listen.TrustedProxies, new.Listen.TrustedProxies, false)

	// ── Non-reloadable: identity mode and JWT wiring ──
	diffField(&changes, "identity.mode", old.Identity.Mode, new.Identity.Mode, false)
	diffField(&changes, "identity.jwt.jwks_url", old.Identity.JWT.JWKSURL, new.Identity.JWT.JWKSURL, false)
	diffField(&changes, "identity.jwt.issuer", old.Identity.JWT.Issuer, new.Identity.JWT.Issuer, false)
	diffField(&changes, "identity.jwt.audience", old.Identity.JWT.Audience, new.Identity.JWT.Audience, false)

	// ── Reloadable: static actor directory ──
	diffField(&changes, "identity.static.directory", old.Identity.Static.Directory, new.Identity.Static.Directory, true)
	diffActors(&changes, old.Identity.Static.Actors, new.Identity.Static.Actors)

	// ── Non-reloadable: audit backend ──
	diffField(&changes, "audit.backend", old.Audit.Backend, new.Audit.Backend, false)
	diffField(&changes, "audit.sqlite.path", old.Audit.SQLite.Path, new.Audit.SQLite.Path, false)
	diffField(&changes, "audit.redis.addr", old.Audit.Redis.Addr, new.Audit.Redis.Addr, false)
	diffField(&changes, "audit.redis.stream", old.Audit.Redis.Stream, new.Audit.Redis.Stream, false)

	// ── Reloadable: audit echo ──
	diffField(&changes, "audit.log_successes", old.Audit.LogSuccesses, new.Audit.LogSuccesses, true)
	diffField(&changes, "audit.success_sampling_rate", old.Audit.SuccessSamplingRate, new.Audit.SuccessSamplingRate, true)
	diffField(&changes, "audit.max_detail_log_size", old.Audit.MaxDetailLogSize, new.Audit.MaxDetailLogSize, true)

	// ── Reloadable: rate limit ──
	diffField(&changes, "rate_limit.enabled", old.RateLimit.Enabled, new.RateLimit.Enabled, true)
	diffField(&changes, "rate_limit.per_actor_per_minute", old.RateLimit.PerActorPerMinute, new.RateLimit.PerActorPerMinute, true)
	diffField(&changes, "rate_limit.burst", old.RateLimit.Burst, new.RateLimit.Burst, true)
	diffField(&changes, "rate_limit.cleanup_interval", old.RateLimit.CleanupInterval.Duration, new.RateLimit.CleanupInterval.Duration, true)

	// ── Reloadable: logging ──
	diffField(&changes, "logging.level", old.Logging.Level, new.Logging.Level, true)
	diffField(&changes, "logging.format", old.Logging.Format, new.Logging.Format, true)

	// ── Non-reloadable: health, shutdown ──
	diffField(&changes, "health.readiness_mode", old.Health.ReadinessMode, new.Health.ReadinessMode, false)
	diffField(&changes, "shutdown.timeout", old.Shutdown.Timeout.Duration, new.Shutdown.Timeout.Duration, false)
	diffField(&changes, "shutdown.drain_timeout", old.Shutdown.DrainTimeout.Duration, new.Shutdown.DrainTimeout.Duration, false)

	return changes
}

// diffField appends a Change if old != new using reflect.DeepEqual for comparison.
func diffField(changes *[]Change, field string, oldVal, newVal interface{}, reloadable bool) {
	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Reloadable: reloadable,
		})
	}
}

// diffStringSlice compares two string slices and appends a Change if they differ.
func diffStringSlice(changes *[]Change, field string, oldVal, newVal []string, reloadable bool) {
	if !reflect.DeepEqual(oldVal, newVal) {
		*changes = append(*changes, Change{
			Field:      field,
			OldValue:   oldVal,
			NewValue:   newVal,
			Reloadable: reloadable,
		})
	}
}

// diffActors compares static directory entries and produces per-actor changes.
// Actor additions, removals, and grant changes are all reloadable; they apply
// to requests resolved after the reload, never to in-flight dispatches.
func diffActors(changes *[]Change, oldActors, newActors []ActorConfig) {
	oldMap := make(map[string]ActorConfig, len(oldActors))
	for _, a := range oldActors {
		oldMap[a.ID] = a
	}
	newMap := make(map[string]ActorConfig, len(newActors))
	for _, a := range newActors {
		newMap[a.ID] = a
	}

	for id := range oldMap {
		if _, exists := newMap[id]; !exists {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s]", id),
				OldValue:   oldMap[id],
				NewValue:   nil,
				Reloadable: true,
			})
		}
	}

	for id := range newMap {
		if _, exists := oldMap[id]; !exists {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s]", id),
				OldValue:   nil,
				NewValue:   newMap[id],
				Reloadable: true,
			})
		}
	}

	for id, oldActor := range oldMap {
		newActor, exists := newMap[id]
		if !exists {
			continue
		}
		if oldActor.Role != newActor.Role {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s].role", id),
				OldValue:   oldActor.Role,
				NewValue:   newActor.Role,
				Reloadable: true,
			})
		}
		if oldActor.Organization != newActor.Organization {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s].organization", id),
				OldValue:   oldActor.Organization,
				NewValue:   newActor.Organization,
				Reloadable: true,
			})
		}
		if oldActor.Token != newActor.Token {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s].token", id),
				OldValue:   "(redacted)",
				NewValue:   "(redacted)",
				Reloadable: true,
			})
		}
		if !reflect.DeepEqual(oldActor.Permissions, newActor.Permissions) {
			*changes = append(*changes, Change{
				Field:      fmt.Sprintf("identity.static.actors[%s].permissions", id),
				OldValue:   oldActor.Permissions,
				NewValue:   newActor.Permissions,
				Reloadable: true,
			})
		}
	}
}
