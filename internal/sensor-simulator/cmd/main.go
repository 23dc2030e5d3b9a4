// Command sensor-node simulates the companion sensor node: DHT11 plus
// capacitive soil probe, reported to the irrigation server every 30s.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	sensorSimulator "github.com/LeonardoBeccarini/irrigation_node/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          "sensor-node",
		Short:        "Simulated sensor node of an irrigation field",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}
	f := cmd.Flags()
	f.String("sensor_id", "sensor1", "unique sensor identifier")
	f.String("node_id", "node-1", "valve node the probe sits next to")
	f.String("api_base_url", "http://192.168.1.10:8000", "irrigation server base URL")
	f.String("report_path", sensorSimulator.DefaultReportPath, "sensor report route")
	f.Duration("sample_every", 5*time.Second, "sampling interval")
	f.Duration("report_every", 30*time.Second, "report interval")
	f.Float64("lat", -6.2, "latitude for the SoilGrids seed (0,0 disables it)")
	f.Float64("lon", 106.8, "longitude for the SoilGrids seed")
	f.Float64("fault_rate", 0.02, "share of failed DHT reads")
	f.Float64("decay_per_min", 0.001, "moisture lost per minute with the valve closed (0..1)")
	f.String("mqtt_host", "", "MQTT broker host (empty: do not follow the valve)")
	f.Int("mqtt_port", 1883, "MQTT broker port")
	f.String("mqtt_user", "guest", "MQTT user")
	f.String("mqtt_password", "guest", "MQTT password")
	f.String("metrics_listen", ":9101", "Prometheus listen address (empty disables)")
	f.String("log_level", "info", "log level")
	_ = v.BindPFlags(f)
	v.SetEnvPrefix("SENSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func run(parent context.Context, v *viper.Viper) error {
	log.Init(log.Config{Level: log.ParseLevel(v.GetString("log_level"))})
	logger := log.WithComponent("sensor-node")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	generator := sensorSimulator.NewDataGenerator(v.GetFloat64("decay_per_min"),
		sensorSimulator.WithFaultRate(v.GetFloat64("fault_rate")))

	soil := resty.New().SetBaseURL(sensorSimulator.SoilGridsBaseURL).SetTimeout(8 * time.Second).SetRetryCount(1)
	if err := generator.SeedFromSoilGrids(ctx, soil, v.GetFloat64("lat"), v.GetFloat64("lon")); err != nil {
		logger.Warn().Err(err).Msg("SoilGrids seed unavailable, using default moisture")
	}

	sensor := &entities.Sensor{
		ID:     v.GetString("sensor_id"),
		NodeID: v.GetString("node_id"),
		State:  entities.StateOff,
	}

	var consumer rabbitmq.IConsumer
	if host := v.GetString("mqtt_host"); host != "" {
		client, err := rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     host,
			Port:     v.GetInt("mqtt_port"),
			User:     v.GetString("mqtt_user"),
			Password: v.GetString("mqtt_password"),
			ClientID: "sensor-" + sensor.ID,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("MQTT unavailable, valve state not followed")
		} else {
			consumer = rabbitmq.NewConsumer(client, sensorSimulator.StateTopic(sensor.NodeID), 1, nil)
		}
	}

	if addr := v.GetString("metrics_listen"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
		defer srv.Close()
	}

	reporter := sensorSimulator.NewHTTPReporter(v.GetString("api_base_url"), v.GetString("report_path"), 5*time.Second)
	sim := sensorSimulator.NewSensorSimulator(consumer, reporter, generator, sensor, sensorSimulator.Config{
		SampleEvery: v.GetDuration("sample_every"),
		ReportEvery: v.GetDuration("report_every"),
	}, logger)

	logger.Info().Str("sensor_id", sensor.ID).Str("node_id", sensor.NodeID).Msg("sensor node started")
	sim.Start(ctx)
	return nil
}
