package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cliniguard/cliniguard/internal/config"
)

// actorEntry holds one actor's token bucket and its last-used timestamp.
type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // UnixNano
}

// ActorRateLimiter enforces per-actor rate limiting with individual token
// buckets keyed by actor id. The check runs after identity resolution so an
// unauthenticated flood never creates buckets. Implements config.Reloadable:
// rate changes drop all buckets so new limits apply immediately.
type ActorRateLimiter struct {
	mu        sync.RWMutex // guards settings
	enabled   bool
	perMinute int
	burst     int

	limiters        sync.Map // actor id → *actorEntry
	cleanupInterval time.Duration
	cancel          context.CancelFunc
}

// NewActorRateLimiter creates the limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewActorRateLimiter(cfg config.RateLimitConfig) *ActorRateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &ActorRateLimiter{
		enabled:         cfg.Enabled,
		perMinute:       cfg.PerActorPerMinute,
		burst:           cfg.Burst,
		cleanupInterval: cfg.CleanupInterval.Duration,
		cancel:          cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow reports whether actorID may proceed. Always true when disabled.
func (rl *ActorRateLimiter) Allow(actorID string) bool {
	rl.mu.RLock()
	enabled := rl.enabled
	rl.mu.RUnlock()
	if !enabled {
		return true
	}
	return rl.getLimiter(actorID).Allow()
}

// Stop stops the cleanup goroutine.
func (rl *ActorRateLimiter) Stop() {
	rl.cancel()
}

// OnConfigReload applies new rate limit settings. Changed limits invalidate
// every existing bucket; actors start fresh on their next request.
func (rl *ActorRateLimiter) OnConfigReload(newCfg *config.Config) error {
	nc := newCfg.RateLimit

	rl.mu.Lock()
	changed := nc.Enabled != rl.enabled || nc.PerActorPerMinute != rl.perMinute || nc.Burst != rl.burst
	rl.enabled = nc.Enabled
	rl.perMinute = nc.PerActorPerMinute
	rl.burst = nc.Burst
	rl.mu.Unlock()

	if changed {
		rl.limiters.Range(func(key, _ any) bool {
			rl.limiters.Delete(key)
			return true
		})
	}
	return nil
}

// getLimiter returns the bucket for actorID, creating one under the current
// settings if needed.
func (rl *ActorRateLimiter) getLimiter(actorID string) *rate.Limiter {
	now := time.Now().UnixNano()

	if v, ok := rl.limiters.Load(actorID); ok {
		entry := v.(*actorEntry)
		entry.lastSeen.Store(now)
		return entry.limiter
	}

	rl.mu.RLock()
	perSecond := float64(rl.perMinute) / 60.0
	burst := rl.burst
	rl.mu.RUnlock()

	entry := &actorEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
	entry.lastSeen.Store(now)

	actual, loaded := rl.limiters.LoadOrStore(actorID, entry)
	if loaded {
		existing := actual.(*actorEntry)
		existing.lastSeen.Store(now)
		return existing.limiter
	}
	return entry.limiter
}

// cleanup periodically drops buckets idle for longer than the cleanup interval.
func (rl *ActorRateLimiter) cleanup(ctx context.Context) {
	interval := rl.cleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-interval).UnixNano()
			rl.limiters.Range(func(key, value any) bool {
				entry := value.(*actorEntry)
				if entry.lastSeen.Load() < cutoff {
					rl.limiters.Delete(key)
				}
				return true
			})
		}
	}
}
