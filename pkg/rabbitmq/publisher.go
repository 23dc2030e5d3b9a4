package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("publish timed out")

// IPublisher publishes payloads on one topic.
type IPublisher interface {
	PublishMessage(payload []byte) error
	PublishMessageQos(qos byte, retained bool, payload []byte) error
}

// Publisher holds the client and topic for publishing messages
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewPublisher creates a Publisher on the shared client. A zero timeout
// means 3s.
func NewPublisher(client mqtt.Client, topic string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Publisher{client: client, topic: topic, timeout: timeout}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage publishes at QoS 0.
func (p *Publisher) PublishMessage(payload []byte) error {
	return p.PublishMessageQos(0, false, payload)
}

// PublishMessageQos publishes and waits at most the publisher timeout for the
// broker acknowledgement.
func (p *Publisher) PublishMessageQos(qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(p.topic, qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%s: %w", p.topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", p.topic, err)
	}
	return nil
}
