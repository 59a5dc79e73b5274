package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"odin-ws-server/internal/kvstore"
)

// ConnectionGate admits or rejects new sessions by source address, per
// spec.md §4.2's "connection admission" bullet: a per-source-address
// sliding window of attempts within the last 60s, admitting iff the count
// is below a threshold (default 20).
//
// Two layers are combined, following the teacher's
// ws/internal/shared/limits/connection_rate_limiter.go: the sliding
// window above is the spec-mandated accounting, backed by the KV port's
// sorted set so it participates in the same cluster/local split as every
// other piece of shared state. A golang.org/x/time/rate limiter per
// source address additionally smooths bursts within the window, the way
// the teacher's ConnectionRateLimiter does for DoS protection.
type ConnectionGate struct {
	port      kvstore.Port
	window    time.Duration
	threshold int

	mu        sync.Mutex
	burstLimiters map[string]*rate.Limiter
}

// NewConnectionGate builds a gate that admits at most threshold attempts
// from one source address per window.
func NewConnectionGate(port kvstore.Port, window time.Duration, threshold int) *ConnectionGate {
	return &ConnectionGate{
		port:          port,
		window:        window,
		threshold:     threshold,
		burstLimiters: make(map[string]*rate.Limiter),
	}
}

// Admit records an attempt from addr and reports whether it is allowed.
func (g *ConnectionGate) Admit(ctx context.Context, addr string) bool {
	if !g.burstAllow(addr) {
		return false
	}

	key := fmt.Sprintf("connattempts:%s", addr)
	now := float64(time.Now().UnixMilli())
	windowStart := now - float64(g.window.Milliseconds())

	_ = g.port.SortedSetAdd(ctx, key, now, fmt.Sprintf("%d", time.Now().UnixNano()))
	g.port.SortedSetRemoveRangeByScore(ctx, key, 0, windowStart)

	count := len(g.port.SortedSetRangeByScore(ctx, key, windowStart, now))
	return count <= g.threshold
}

// burstAllow applies a smoothing token bucket per address so a single
// address cannot spend its whole window budget in one instant.
func (g *ConnectionGate) burstAllow(addr string) bool {
	g.mu.Lock()
	limiter, ok := g.burstLimiters[addr]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(g.threshold)/g.window.Seconds()), g.threshold)
		g.burstLimiters[addr] = limiter
	}
	g.mu.Unlock()
	return limiter.Allow()
}

// Sweep bounds the burst-limiter registry, on the 60s connection-attempt
// sweep cadence from spec.md §4.7. It does not track when each address
// was last seen; a simple size cap is used instead: once
// the registry exceeds a few thousand entries it is rebuilt empty, which
// only costs an extra admission check for addresses that happen to
// reconnect in the same tick.
func (g *ConnectionGate) Sweep() {
	const maxTracked = 4096
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.burstLimiters) > maxTracked {
		g.burstLimiters = make(map[string]*rate.Limiter)
	}
}
