// Command irrigation-node runs the valve controller of one irrigation node.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/irrigation_node/internal/services/event"
	"github.com/LeonardoBeccarini/irrigation_node/internal/services/gateway/app"
	vc "github.com/LeonardoBeccarini/irrigation_node/internal/services/valve-controller"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/adminrpc"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware/raspi"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "irrigation-node",
	Short: "Valve controller of an irrigation node",
	Long: `irrigation-node opens and closes one irrigation valve on up to three
daily schedules, follows remote on/off intents and schedule updates from the
irrigation server, and keeps its clock in sync with NTP.`,
	Version:      Version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := viper.New()
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		settings, err := vc.LoadSettings(v, configFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), settings)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("irrigation-node %s (%s)\n", Version, Commit))
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (YAML)")
	rootCmd.Flags().String("node_id", "", "node identifier")
	rootCmd.Flags().String("data_dir", "", "directory of the config database")
	rootCmd.Flags().Bool("stdin_admin", false, "read admin commands from stdin")
}

func run(parent context.Context, s vc.Settings) error {
	if parent == nil {
		parent = context.Background()
	}
	log.Init(log.Config{Level: log.ParseLevel(s.Log.Level), JSONOutput: s.Log.JSON})
	logger := log.WithNodeID(s.NodeID)
	logger.Info().Str("version", Version).Str("driver", s.Hardware.Driver).Msg("starting")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Storage ===
	store, err := storage.NewBoltStore(s.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	// === Hardware ===
	board, err := openBoard(s)
	if err != nil {
		return err
	}
	defer func() {
		if err := board.Close(); err != nil {
			logger.Error().Err(err).Msg("board close")
		}
	}()

	// === Event sinks ===
	var (
		notifiers  vc.Notifiers
		mqttClient mqtt.Client
		writer     *event.Writer
		history    http.Handler
	)
	if s.MQTT.Host != "" {
		mqttClient, err = rabbitmq.NewRabbitMQConn(ctx, &rabbitmq.RabbitMQConfig{
			Host:     s.MQTT.Host,
			Port:     s.MQTT.Port,
			User:     s.MQTT.User,
			Password: s.MQTT.Password,
			ClientID: "valve-" + s.NodeID,
		})
		if err != nil {
			// the valve keeps working without the broker
			logger.Warn().Err(err).Msg("MQTT unavailable, events not published")
			mqttClient = nil
		} else {
			factory := func(topic string) rabbitmq.IPublisher {
				return rabbitmq.NewPublisher(mqttClient, topic, 3*time.Second)
			}
			notifiers = append(notifiers, vc.NewMQTTNotifier(s.NodeID, factory, log.WithComponent("events")))
		}
	}
	if s.Influx.URL != "" {
		influx := influxdb2.NewClient(s.Influx.URL, s.Influx.Token)
		defer influx.Close()
		writer = event.NewWriter(influx.WriteAPI(s.Influx.Org, s.Influx.Bucket))
		defer writer.Flush()
		notifiers = append(notifiers, event.NewRecorder(writer))
		history = event.NewHistoryHandler(influx.QueryAPI(s.Influx.Org), s.Influx.Bucket)
	}

	// === Engine ===
	engine, err := vc.NewEngine(vc.Deps{
		Store:    store,
		Board:    board,
		RTC:      hardware.NewSystemRTC(),
		Net:      hardware.NTPSource{Server: s.NTP.Server},
		Remote:   vc.NewHTTPRemote(s.RemoteConfig()),
		Notifier: notifiers,
	}, s.EngineOptions())
	if err != nil {
		return err
	}
	if err := engine.Setup(ctx); err != nil {
		return err
	}
	var running atomic.Bool

	// === HTTP ===
	gw := app.NewGateway(engine, app.Config{
		History: history,
		Health:  event.NewHealthHandler(mqttClient, writer),
		Ready:   event.NewReadyHandler(mqttClient, writer, 2*time.Second, running.Load),
		Metrics: metrics.Handler(),
	})
	hs := &http.Server{
		Addr:              s.HTTP.Listen,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", s.HTTP.Listen).Msg("HTTP listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// === gRPC ===
	lis, err := net.Listen("tcp", s.GRPC.Listen)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.GRPC.Listen, err)
	}
	gs := grpc.NewServer()
	adminrpc.RegisterAdminServer(gs, vc.NewGrpcHandler(engine))
	go func() {
		logger.Info().Str("addr", s.GRPC.Listen).Msg("gRPC listening")
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error().Err(err).Msg("grpc server error")
			stop()
		}
	}()

	// === Console ===
	if s.StdinAdmin {
		console := vc.NewConsole(engine, os.Stdin, os.Stdout, log.WithComponent("console"))
		go func() {
			if err := console.Run(ctx); err != nil {
				logger.Warn().Err(err).Msg("console stopped")
			}
		}()
	}

	// === Loop ===
	running.Store(true)
	err = engine.Run(ctx)
	running.Store(false)
	logger.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hs.Shutdown(shCtx)
	gs.GracefulStop()
	return err
}

func openBoard(s vc.Settings) (*hardware.Board, error) {
	switch s.Hardware.Driver {
	case "raspi":
		return raspi.NewBoard(s.Hardware.RelayPin, s.Hardware.LedPin)
	default:
		return hardware.NewSimBoard(), nil
	}
}
