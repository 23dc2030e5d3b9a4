package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoolGauge(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_bool_gauge", Help: "test"})

	BoolGauge(g, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(g))
	BoolGauge(g, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(g))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	timer.ObserveDuration(h)

	assert.GreaterOrEqual(t, timer.Duration(), 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ValveOpen.Set(1)
	RemotePolls.WithLabelValues("intent", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "irrigation_valve_open 1")
	assert.Contains(t, string(body), `irrigation_remote_polls_total{endpoint="intent",result="ok"}`)
}
