package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// promauto registers collectors on the global Prometheus registry, so a
// second New() in this test binary would panic on a duplicate
// registration; every test shares one instance.
var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

func testMetrics() *Metrics {
	sharedMetricsOnce.Do(func() { sharedMetrics = New() })
	return sharedMetrics
}

func TestNewRegistersCollectorsAndStartsClean(t *testing.T) {
	m := testMetrics()

	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ConnectionsActive))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RoomsReaped))

	m.ConnectionsTotal.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionsTotal))
}

func TestUptimeGrowsMonotonically(t *testing.T) {
	m := testMetrics()
	first := m.Uptime()
	time.Sleep(time.Millisecond)
	assert.Greater(t, m.Uptime(), first)
}

func TestSystemSamplerUpdateSetsGoroutineGauge(t *testing.T) {
	m := testMetrics()
	s := NewSystemSampler()

	s.Update(m)
	assert.Greater(t, testutil.ToFloat64(m.SystemGoroutines), float64(0))
}
