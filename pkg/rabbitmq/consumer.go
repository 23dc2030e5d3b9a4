package rabbitmq

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
)

// Handler processes one message received on topic.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches messages until the context ends.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

// Consumer subscribes one topic on the shared client.
type Consumer struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler Handler
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{client: client, topic: topic, qos: qos, handler: handler}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// dispatch is the subscription callback.
func (c *Consumer) dispatch(_ mqtt.Client, message mqtt.Message) {
	logger := log.WithComponent("mqtt")
	if c.handler == nil {
		logger.Warn().Str("topic", c.topic).Msg("No handler set")
		return
	}
	if err := c.handler(message.Topic(), message); err != nil {
		logger.Error().Err(err).Str("topic", message.Topic()).Msg("Error handling message")
	}
}

// ConsumeMessage subscribes and blocks until ctx is done, then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, c.dispatch)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, token.Error())
	}
	logger := log.WithComponent("mqtt")
	logger.Info().Str("topic", c.topic).Msg("Subscribed")

	<-ctx.Done()

	c.client.Unsubscribe(c.topic).Wait()
	return nil
}
