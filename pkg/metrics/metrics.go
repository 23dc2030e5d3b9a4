// Package metrics exposes Prometheus collectors for the irrigation node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Valve metrics
	ValveOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "irrigation_valve_open",
			Help: "Whether the valve relay is energized (1 = open, 0 = closed)",
		},
	)

	ManualSession = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "irrigation_manual_session",
			Help: "Whether the current session was opened by a remote command",
		},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irrigation_session_duration_seconds",
			Help:    "Length of closed watering sessions by trigger",
			Buckets: []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
		},
		[]string{"trigger"},
	)

	// Schedule metrics
	WateringCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "irrigation_watering_count",
			Help: "Lifetime number of schedule firings stored in the config",
		},
	)

	ScheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_schedule_fires_total",
			Help: "Schedule slot firings by slot and outcome",
		},
		[]string{"slot", "outcome"},
	)

	ConfigSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_config_saves_total",
			Help: "Config writes by result",
		},
		[]string{"result"},
	)

	// Remote metrics
	RemotePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_remote_polls_total",
			Help: "Remote endpoint polls by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)

	RemotePollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "irrigation_remote_poll_duration_seconds",
			Help:    "Remote endpoint round trip time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Clock metrics
	ClockSyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_clock_syncs_total",
			Help: "Network time sync attempts by result",
		},
		[]string{"result"},
	)

	ClockLastSync = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "irrigation_clock_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful network time sync",
		},
	)

	// Sensor node metrics
	SensorReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "irrigation_sensor_reports_total",
			Help: "Sensor reports sent to the server by result",
		},
		[]string{"result"},
	)

	SensorSamplesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "irrigation_sensor_samples_dropped_total",
			Help: "Sensor samples rejected as invalid",
		},
	)
)

func init() {
	prometheus.MustRegister(ValveOpen)
	prometheus.MustRegister(ManualSession)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(WateringCount)
	prometheus.MustRegister(ScheduleFires)
	prometheus.MustRegister(ConfigSaves)
	prometheus.MustRegister(RemotePolls)
	prometheus.MustRegister(RemotePollDuration)
	prometheus.MustRegister(ClockSyncs)
	prometheus.MustRegister(ClockLastSync)
	prometheus.MustRegister(SensorReports)
	prometheus.MustRegister(SensorSamplesDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge sets g to 1 or 0.
func BoolGauge(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Timer measures an operation for a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on o.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
