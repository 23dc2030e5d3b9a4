// Package rabbitmq connects to the MQTT broker (RabbitMQ with the MQTT plugin
// in the reference deployment, any MQTT 3.1.1 broker works) and wraps
// publishing and subscribing.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string
	// MaxElapsed bounds the connect retries; zero means 10s.
	MaxElapsed time.Duration
}

// NewRabbitMQConn connects with exponential backoff. The client is
// disconnected when ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQConfig) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
	logger := log.WithComponent("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 10 * time.Second
	}

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn().Err(token.Error()).Str("broker", connAddr).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection: %w", err)
	}

	logger.Info().Str("broker", connAddr).Msg("Connected to MQTT broker")

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(client)
	}()

	return client, nil
}

func CloseRabbitMQConn(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
		logger := log.WithComponent("mqtt")
		logger.Info().Msg("MQTT connection closed")
	}
}
