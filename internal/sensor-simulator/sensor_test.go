package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq/rabbitmqtest"
)

func TestSoilPercent(t *testing.T) {
	cases := map[int]int{
		3500: 0,
		1200: 100,
		4095: 0,   // drier than calibrated
		800:  100, // wetter than calibrated
		2350: 50,
		3477: 1,  // 23*100/2300 = 1
		3478: 0,  // truncated
		1223: 99, // 2277*100/2300 = 99.0
	}
	for raw, want := range cases {
		assert.Equal(t, want, SoilPercent(raw), "raw %d", raw)
	}
}

func TestValidate(t *testing.T) {
	ok := messages.SensorData{Temperature: 28, Humidity: 70}
	assert.NoError(t, Validate(ok))

	for name, sd := range map[string]messages.SensorData{
		"nan temp":  {Temperature: math.NaN(), Humidity: 70},
		"nan humid": {Temperature: 28, Humidity: math.NaN()},
		"too cold":  {Temperature: -10.5, Humidity: 70},
		"too hot":   {Temperature: 60.1, Humidity: 70},
	} {
		assert.ErrorIs(t, Validate(sd), ErrInvalidSample, name)
	}
	assert.NoError(t, Validate(messages.SensorData{Temperature: -10, Humidity: 5}))
	assert.NoError(t, Validate(messages.SensorData{Temperature: 60, Humidity: 5}))
}

func TestWindowAverages(t *testing.T) {
	var w Window
	require.NoError(t, w.Add(messages.SensorData{Temperature: 27, Humidity: 70, SoilRaw: 3500}))
	require.NoError(t, w.Add(messages.SensorData{Temperature: 28, Humidity: 75, SoilRaw: 1200}))
	assert.Error(t, w.Add(messages.SensorData{Temperature: math.NaN()}))
	assert.Equal(t, 2, w.Len())

	rep, ok := w.Flush()
	require.True(t, ok)
	assert.Equal(t, messages.SensorReport{Temp: 27.5, Humid: 72.5, Soil: 50}, rep)
	assert.Zero(t, w.Len())

	_, ok = w.Flush()
	assert.False(t, ok)
}

// ===== Generator =====

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGenerator(clock *stepClock, opts ...GeneratorOption) *DataGenerator {
	opts = append([]GeneratorOption{WithClock(clock.Now), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return NewDataGenerator(0.001, opts...)
}

func TestGeneratorMoistureFollowsValve(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)}
	g := newTestGenerator(clock)
	g.Seed(0.3)
	sensor := &entities.Sensor{ID: "s1", State: entities.StateOff}

	first := g.Next(sensor)
	assert.InDelta(t, 3500-0.3*2300, first.SoilRaw, 80)
	assert.Equal(t, "s1", first.SensorID)

	sensor.State = entities.StateOn
	clock.Advance(60 * time.Minute)
	wet := g.Next(sensor)
	assert.Less(t, wet.SoilRaw, first.SoilRaw, "wetter soil reads lower")
	assert.Greater(t, SoilPercent(wet.SoilRaw), SoilPercent(first.SoilRaw))

	sensor.State = entities.StateOff
	clock.Advance(120 * time.Minute)
	dry := g.Next(sensor)
	assert.Greater(t, dry.SoilRaw, wet.SoilRaw)
}

func TestGeneratorClimateIsPlausible(t *testing.T) {
	clock := &stepClock{t: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	g := newTestGenerator(clock)
	sensor := &entities.Sensor{ID: "s1"}
	for i := 0; i < 48; i++ {
		sd := g.Next(sensor)
		require.NoError(t, Validate(sd))
		assert.InDelta(t, 27, sd.Temperature, 7)
		assert.GreaterOrEqual(t, sd.Humidity, 20.0)
		assert.LessOrEqual(t, sd.Humidity, 100.0)
		clock.Advance(30 * time.Minute)
	}
}

func TestGeneratorFaultsAreDropped(t *testing.T) {
	clock := &stepClock{t: time.Now()}
	g := newTestGenerator(clock, WithFaultRate(1))
	sd := g.Next(&entities.Sensor{ID: "s1"})
	assert.True(t, math.IsNaN(sd.Temperature))
	assert.ErrorIs(t, Validate(sd), ErrInvalidSample)
}

func TestSeedFromSoilGrids(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wv0010", r.URL.Query().Get("property"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"properties":{"layers":[{"name":"wv0010","depths":[{"values":{"Q0.5":420}}]}]}}`))
	}))
	defer srv.Close()

	clock := &stepClock{t: time.Now()}
	g := newTestGenerator(clock)
	require.NoError(t, g.SeedFromSoilGrids(context.Background(), resty.New().SetBaseURL(srv.URL), -6.2, 106.8))
	assert.InDelta(t, 0.42, g.moisture, 1e-9)
}

func TestSeedFromSoilGridsFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := newTestGenerator(&stepClock{t: time.Now()})
	err := g.SeedFromSoilGrids(context.Background(), resty.New().SetBaseURL(srv.URL), 1, 1)
	assert.Error(t, err)
	assert.InDelta(t, defaultSeed, g.moisture, 1e-9)
}

// ===== Simulator =====

type captureReporter struct {
	mu      sync.Mutex
	reports []messages.SensorReport
	err     error
}

func (c *captureReporter) Report(_ context.Context, r messages.SensorReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reports = append(c.reports, r)
	return nil
}

func (c *captureReporter) Reports() []messages.SensorReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]messages.SensorReport(nil), c.reports...)
}

func newSim(t *testing.T, consumer rabbitmq.IConsumer, rep Reporter, opts ...GeneratorOption) *SensorSimulator {
	t.Helper()
	g := newTestGenerator(&stepClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}, opts...)
	sensor := &entities.Sensor{ID: "s1", NodeID: "node-1", State: entities.StateOff}
	return NewSensorSimulator(consumer, rep, g, sensor, Config{}, zerolog.Nop())
}

func TestFlushSendsAverage(t *testing.T) {
	rep := &captureReporter{}
	sim := newSim(t, nil, rep)
	sim.Sample()
	sim.Sample()

	got, ok := sim.Flush(context.Background())
	require.True(t, ok)
	require.Len(t, rep.Reports(), 1)
	assert.Equal(t, got, rep.Reports()[0])
	assert.InDelta(t, 30, got.Soil, 5)
}

func TestFlushSkipsWhenAllSamplesInvalid(t *testing.T) {
	rep := &captureReporter{}
	sim := newSim(t, nil, rep, WithFaultRate(1))
	sim.Sample()
	_, ok := sim.Flush(context.Background())
	assert.False(t, ok)
	assert.Empty(t, rep.Reports())
}

func TestFlushReportError(t *testing.T) {
	sim := newSim(t, nil, &captureReporter{err: errors.New("server down")})
	sim.Sample()
	_, ok := sim.Flush(context.Background())
	assert.False(t, ok)
	assert.Zero(t, sim.window.Len(), "a failed window is not carried over")
}

func stateMsg(t *testing.T, evt messages.StateChangeEvent) *rabbitmqtest.Message {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return &rabbitmqtest.Message{TopicName: StateTopic("node-1"), Body: b, QoS: 1}
}

func TestFollowsValveStateOverMQTT(t *testing.T) {
	client := rabbitmqtest.NewClient()
	consumer := rabbitmq.NewConsumer(client, StateTopic("node-1"), 1, nil)
	sim := newSim(t, consumer, &captureReporter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.SetHandler(sim.handleMessage)
	go func() { _ = consumer.ConsumeMessage(ctx) }()
	require.Eventually(t, func() bool { return client.Subscribed(StateTopic("node-1")) }, time.Second, 5*time.Millisecond)

	on := stateMsg(t, messages.StateChangeEvent{NodeID: "node-1", SessionID: "a", NewState: entities.StateOn})
	require.True(t, client.Deliver(on))
	assert.Equal(t, entities.StateOn, sim.State())

	// other nodes are ignored
	require.True(t, client.Deliver(stateMsg(t, messages.StateChangeEvent{NodeID: "node-2", SessionID: "b", NewState: entities.StateOff})))
	assert.Equal(t, entities.StateOn, sim.State())

	off := stateMsg(t, messages.StateChangeEvent{NodeID: "node-1", SessionID: "a", NewState: entities.StateOff})
	require.True(t, client.Deliver(off))
	assert.Equal(t, entities.StateOff, sim.State())

	// a QoS1 redelivery of the ON must not reopen
	require.True(t, client.Deliver(on))
	assert.Equal(t, entities.StateOff, sim.State())
}

func TestPlannedOnRevertsByItself(t *testing.T) {
	sim := newSim(t, nil, &captureReporter{})
	sim.applyState(messages.StateChangeEvent{NodeID: "node-1", NewState: entities.StateOn, Duration: 20 * time.Millisecond})
	assert.Equal(t, entities.StateOn, sim.State())
	assert.Eventually(t, func() bool { return sim.State() == entities.StateOff }, time.Second, 5*time.Millisecond)
}

func TestMalformedStateEvent(t *testing.T) {
	sim := newSim(t, nil, &captureReporter{})
	err := sim.handleMessage("valve/node-1/state", &rabbitmqtest.Message{Body: []byte("{")})
	assert.Error(t, err)
}

func TestHTTPReporterPostsJSON(t *testing.T) {
	var got messages.SensorReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultReportPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := NewHTTPReporter(srv.URL, "", time.Second)
	want := messages.SensorReport{Temp: 29.1, Humid: 68, Soil: 44}
	require.NoError(t, rep.Report(context.Background(), want))
	assert.Equal(t, want, got)
}

func TestHTTPReporterRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewHTTPReporter(srv.URL, "/api/receive-sensor", time.Second).Report(context.Background(), messages.SensorReport{})
	assert.ErrorContains(t, err, "422")
}
