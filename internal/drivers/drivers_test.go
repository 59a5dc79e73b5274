package drivers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odin-ws-server/internal/kvstore"
	"odin-ws-server/internal/metrics"
	"odin-ws-server/internal/ratelimit"
)

// promauto registers collectors on the global Prometheus registry, so a
// second metrics.New() in this test binary would panic on a duplicate
// registration.
var (
	sharedMetrics     *metrics.Metrics
	sharedMetricsOnce sync.Once
)

func testMetrics() *metrics.Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = metrics.New() })
	return sharedMetrics
}

type fakeFlusher struct {
	cursorFlushes int32
	reactionFlushes int32
	videoTicks      int32
	reaps           int32
	serverTimes     int32
}

func (f *fakeFlusher) FlushCursorBatches(ctx context.Context)   { atomic.AddInt32(&f.cursorFlushes, 1) }
func (f *fakeFlusher) FlushReactionBatches(ctx context.Context) { atomic.AddInt32(&f.reactionFlushes, 1) }
func (f *fakeFlusher) TickVideo(ctx context.Context)            { atomic.AddInt32(&f.videoTicks, 1) }
func (f *fakeFlusher) ReapEmptyRooms(ctx context.Context)       { atomic.AddInt32(&f.reaps, 1) }
func (f *fakeFlusher) BroadcastServerTime(ctx context.Context)  { atomic.AddInt32(&f.serverTimes, 1) }

func TestRunDrivesAllLoopsUntilCancelled(t *testing.T) {
	m := testMetrics()
	local := kvstore.NewLocalPort()
	gate := ratelimit.NewConnectionGate(local, time.Minute, 20)
	sampler := metrics.NewSystemSampler()
	fake := &fakeFlusher{}

	cfg := Config{
		CursorFlushInterval:   time.Millisecond,
		ReactionFlushInterval: time.Millisecond,
		VideoTickInterval:     time.Millisecond,
		RoomReapInterval:      time.Millisecond,
		ServerTimeInterval:    time.Millisecond,
		BucketSweepInterval:   time.Millisecond,
		ConnSweepInterval:     time.Millisecond,
	}
	d := New(cfg, fake, local, gate, sampler, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fake.cursorFlushes) > 0 &&
			atomic.LoadInt32(&fake.reactionFlushes) > 0 &&
			atomic.LoadInt32(&fake.videoTicks) > 0 &&
			atomic.LoadInt32(&fake.reaps) > 0 &&
			atomic.LoadInt32(&fake.serverTimes) > 0
	}, time.Second, time.Millisecond, "expected every driver loop to fire at least once")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRunSkipsLocalSweepWhenPortIsNil(t *testing.T) {
	m := testMetrics()
	remote := kvstore.NewLocalPort() // stand-in KV port for the gate; sweep target itself is nil
	gate := ratelimit.NewConnectionGate(remote, time.Minute, 20)
	sampler := metrics.NewSystemSampler()
	fake := &fakeFlusher{}

	cfg := Config{
		CursorFlushInterval:   time.Hour,
		ReactionFlushInterval: time.Hour,
		VideoTickInterval:     time.Hour,
		RoomReapInterval:      time.Hour,
		ServerTimeInterval:    time.Hour,
		BucketSweepInterval:   time.Millisecond,
		ConnSweepInterval:     time.Hour,
	}
	d := New(cfg, fake, nil, gate, sampler, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // must not panic on a nil local port
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.True(t, true)
}
