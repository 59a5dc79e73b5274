// Package drivers runs the fixed-interval background tasks from spec.md
// §4.7: batch flushes, the authoritative video tick, the empty-room
// reap, and the local fallback sweeps. Each is a plain time.Ticker loop
// selecting on a shutdown context, matching the teacher's
// cleanupNonces/updateMessageRate goroutines.
package drivers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"odin-ws-server/internal/kvstore"
	"odin-ws-server/internal/metrics"
	"odin-ws-server/internal/ratelimit"
)

// Flusher is the subset of *hub.Hub the drivers depend on, kept as an
// interface so the drivers package does not import hub (which already
// imports drivers' sibling packages) and so tests can inject a fake.
type Flusher interface {
	FlushCursorBatches(ctx context.Context)
	FlushReactionBatches(ctx context.Context)
	TickVideo(ctx context.Context)
	ReapEmptyRooms(ctx context.Context)
	BroadcastServerTime(ctx context.Context)
}

// Config carries every cadence the drivers run on.
type Config struct {
	CursorFlushInterval   time.Duration
	ReactionFlushInterval time.Duration
	VideoTickInterval     time.Duration
	RoomReapInterval      time.Duration
	ServerTimeInterval    time.Duration
	BucketSweepInterval   time.Duration
	ConnSweepInterval     time.Duration
}

// Drivers owns the tickers for one hub instance's background work.
type Drivers struct {
	cfg     Config
	hub     Flusher
	local   *kvstore.LocalPort // nil in cluster mode, where there is nothing to sweep
	gate    *ratelimit.ConnectionGate
	sampler *metrics.SystemSampler
	m       *metrics.Metrics
	logger  zerolog.Logger
}

// New builds a Drivers set. local may be nil when the KV port is
// clustered, since the local fallback sweep only applies to LocalPort.
func New(cfg Config, hub Flusher, local *kvstore.LocalPort, gate *ratelimit.ConnectionGate, sampler *metrics.SystemSampler, m *metrics.Metrics, logger zerolog.Logger) *Drivers {
	return &Drivers{cfg: cfg, hub: hub, local: local, gate: gate, sampler: sampler, m: m, logger: logger}
}

// Run starts every ticker loop and blocks until ctx is cancelled, at
// which point all loops exit and Run returns.
func (d *Drivers) Run(ctx context.Context) {
	go d.loop(ctx, d.cfg.CursorFlushInterval, func() { d.hub.FlushCursorBatches(ctx) })
	go d.loop(ctx, d.cfg.ReactionFlushInterval, func() { d.hub.FlushReactionBatches(ctx) })
	go d.loop(ctx, d.cfg.VideoTickInterval, func() { d.hub.TickVideo(ctx) })
	go d.loop(ctx, d.cfg.RoomReapInterval, func() { d.hub.ReapEmptyRooms(ctx) })
	go d.loop(ctx, d.cfg.ServerTimeInterval, func() { d.hub.BroadcastServerTime(ctx) })
	go d.loop(ctx, d.cfg.ConnSweepInterval, d.gate.Sweep)
	go d.loop(ctx, time.Second, func() { d.sampler.Update(d.m) })

	if d.local != nil {
		go d.loop(ctx, d.cfg.BucketSweepInterval, d.local.SweepExpired)
	}

	<-ctx.Done()
	d.logger.Info().Msg("drivers stopped")
}

func (d *Drivers) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
