package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
)

// Config sets the sampling and reporting cadence.
type Config struct {
	SampleEvery time.Duration // default 5s
	ReportEvery time.Duration // default 30s
}

// SensorSimulator samples the simulated probe, averages the valid samples
// and reports them to the server. It follows the valve state published by
// the controller on its state topic.
type SensorSimulator struct {
	mu        sync.Mutex
	sensor    *entities.Sensor
	timer     *time.Timer // fail-safe revert of an ON
	generator *DataGenerator
	reporter  Reporter
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
	window    Window
	cfg       Config
	logger    zerolog.Logger
}

// StateTopic is the controller topic the probe follows.
func StateTopic(nodeID string) string { return "valve/" + nodeID + "/state" }

func NewSensorSimulator(consumer rabbitmq.IConsumer, reporter Reporter, gen *DataGenerator,
	sensor *entities.Sensor, cfg Config, logger zerolog.Logger) *SensorSimulator {
	if cfg.SampleEvery <= 0 {
		cfg.SampleEvery = 5 * time.Second
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 30 * time.Second
	}
	return &SensorSimulator{
		sensor:    sensor,
		generator: gen,
		reporter:  reporter,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000), // TTL e cap
		cfg:       cfg,
		logger:    logger,
	}
}

// Start sends a first report right away, then samples and reports on the
// configured cadence until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go func() {
			if err := s.consumer.ConsumeMessage(ctx); err != nil {
				s.logger.Error().Err(err).Msg("valve state subscription failed")
			}
		}()
	}

	s.Sample()
	s.Flush(ctx)

	sample := time.NewTicker(s.cfg.SampleEvery)
	defer sample.Stop()
	report := time.NewTicker(s.cfg.ReportEvery)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case <-sample.C:
			s.Sample()
		case <-report.C:
			s.Sample()
			s.Flush(ctx)
		}
	}
}

// Sample takes one reading and buffers it when valid.
func (s *SensorSimulator) Sample() {
	sensor := s.snapshot()
	sd := s.generator.Next(&sensor)
	if err := s.window.Add(sd); err != nil {
		metrics.SensorSamplesDropped.Inc()
		s.logger.Warn().Err(err).Msg("sample dropped")
		return
	}
	s.logger.Debug().
		Float64("temp", sd.Temperature).
		Float64("humid", sd.Humidity).
		Int("soil_raw", sd.SoilRaw).
		Msg("sample")
}

// Flush reports the average of the buffered samples. An empty window sends
// nothing; a failed report is not retried, the next window replaces it.
func (s *SensorSimulator) Flush(ctx context.Context) (messages.SensorReport, bool) {
	rep, ok := s.window.Flush()
	if !ok {
		s.logger.Warn().Msg("no valid samples, report skipped")
		return rep, false
	}
	err := s.reporter.Report(ctx, rep)
	metrics.SensorReports.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Warn().Err(err).Msg("report failed")
		return rep, false
	}
	s.logger.Info().
		Float64("temp", rep.Temp).
		Float64("humid", rep.Humid).
		Int("soil", rep.Soil).
		Msg("report sent")
	return rep, true
}

// State returns the valve state the probe currently assumes.
func (s *SensorSimulator) State() entities.ValveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensor.State
}

func (s *SensorSimulator) snapshot() entities.Sensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sensor
}

func (s *SensorSimulator) handleMessage(topic string, msg mqtt.Message) error {
	// Dedup a payload: redelivery QoS1 ha lo stesso payload → stesso hash
	if !s.deduper.ShouldProcess(dedup.PayloadKey(topic, msg.Payload())) {
		return nil
	}

	var evt messages.StateChangeEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid StateChangeEvent: %w", err)
	}
	if evt.NodeID != s.sensor.NodeID {
		return nil
	}
	s.applyState(evt)
	return nil
}

// applyState follows the valve. An ON carrying a planned duration reverts
// to OFF on its own once it elapses, in case the OFF event is lost.
func (s *SensorSimulator) applyState(evt messages.StateChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.sensor.State = evt.NewState
	s.logger.Info().
		Str("session_id", evt.SessionID).
		Str("state", string(evt.NewState)).
		Dur("planned", evt.Duration).
		Msg("valve state changed")

	if evt.NewState == entities.StateOn && evt.Duration > 0 {
		s.timer = time.AfterFunc(evt.Duration, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sensor.State = entities.StateOff
			s.timer = nil
		})
	}
}

func (s *SensorSimulator) stopTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
