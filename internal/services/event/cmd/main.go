// Command history-collector subscribes to the valve topics of every node and
// writes the events to InfluxDB, serving the same /history view as a node.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/irrigation_node/internal/services/event"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/dedup"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	log.Init(log.Config{
		Level:      log.ParseLevel(envStr("LOG_LEVEL", "info")),
		JSONOutput: envStr("LOG_JSON", "") == "true",
	})
	logger := log.WithComponent("history-collector")

	// === Config ===
	cfg := struct {
		Rabbit rabbitmq.RabbitMQConfig

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		Topics        []string
		BatchSize     int
		FlushInterval time.Duration

		HTTPPort       int
		ReadinessGrace time.Duration
	}{
		Rabbit: rabbitmq.RabbitMQConfig{
			Host:     envStr("RABBITMQ_HOST", "localhost"),
			Port:     envInt("RABBITMQ_PORT", 1883),
			User:     envStr("RABBITMQ_USER", "guest"),
			Password: envStr("RABBITMQ_PASSWORD", "guest"),
			ClientID: envStr("HOSTNAME", "history-collector"),
		},

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "irrigation"),
		InfluxBucket: envStr("INFLUX_BUCKET", "valve"),

		Topics: func() []string {
			raw := envStr("EVENT_SUB_TOPICS", "valve/+/state,valve/+/result,valve/+/config")
			parts := strings.Split(raw, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if s := strings.TrimSpace(p); s != "" {
					out = append(out, s)
				}
			}
			return out
		}(),
		BatchSize:     envInt("WRITE_BATCH_SIZE", 10),
		FlushInterval: time.Duration(envInt("WRITE_FLUSH_INTERVAL_MS", 200)) * time.Millisecond,

		HTTPPort:       envInt("HTTP_PORT", 8080),
		ReadinessGrace: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === InfluxDB ===
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	influx := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)
	defer influx.Close()
	writer := event.NewWriter(influx.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket))

	// === MQTT ===
	mqttClient, err := rabbitmq.NewRabbitMQConn(ctx, &cfg.Rabbit)
	if err != nil {
		logger.Fatal().Err(err).Msg("mqtt connection error")
	}
	defer rabbitmq.CloseRabbitMQConn(mqttClient)

	// === HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", event.NewHealthHandler(mqttClient, writer))
	mux.Handle("/readyz", event.NewReadyHandler(mqttClient, writer, 2*time.Second, nil))
	mux.Handle("/history", event.NewHistoryHandler(influx.QueryAPI(cfg.InfluxOrg), cfg.InfluxBucket))
	mux.Handle("/metrics", metrics.Handler())

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	// === Consumer ===
	h := event.NewMQTTHandler(writer.Write)

	// QoS1 → possibili redelivery: dedup su hash di topic+payload
	d := dedup.New(10*time.Minute, 20000)
	handle := func(topic string, m mqtt.Message) error {
		if !d.ShouldProcess(dedup.PayloadKey(m.Topic(), m.Payload())) {
			return nil
		}
		return h.Handle(topic, m)
	}

	for _, topic := range cfg.Topics {
		logger.Info().Str("topic", topic).Msg("subscribing")
		c := rabbitmq.NewConsumer(mqttClient, topic, 1, handle)
		go func(topic string) {
			if err := c.ConsumeMessage(ctx); err != nil {
				logger.Error().Err(err).Str("topic", topic).Msg("subscribe error")
				stop()
			}
		}(topic)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ReadinessGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	writer.Flush()
}
