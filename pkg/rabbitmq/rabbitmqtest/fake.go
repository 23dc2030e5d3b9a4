// Package rabbitmqtest provides in-memory MQTT client doubles.
package rabbitmqtest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is a completed mqtt.Token.
type Token struct {
	Err     error
	Pending bool // WaitTimeout reports false
}

func (t *Token) Wait() bool { return !t.Pending }

func (t *Token) WaitTimeout(time.Duration) bool { return !t.Pending }

func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.Pending {
		close(ch)
	}
	return ch
}

func (t *Token) Error() error { return t.Err }

// Message is an mqtt.Message built from plain values.
type Message struct {
	TopicName string
	Body      []byte
	QoS       byte
	Dup       bool
}

func (m *Message) Duplicate() bool   { return m.Dup }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published records one Publish call.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client is an mqtt.Client that records publishes and routes Deliver calls
// to subscribers.
type Client struct {
	mu         sync.Mutex
	published  []Published
	subs       map[string]mqtt.MessageHandler
	PublishErr error
	Stall      bool // publish tokens never complete
	Down       bool // connection reported closed
}

func NewClient() *Client {
	return &Client{subs: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool      { return !c.Down }
func (c *Client) IsConnectionOpen() bool { return !c.Down }
func (c *Client) Connect() mqtt.Token    { return &Token{} }
func (c *Client) Disconnect(uint)        {}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Stall {
		return &Token{Pending: true}
	}
	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	}
	c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	return &Token{}
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = callback
	return &Token{}
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return &Token{}
}

func (c *Client) AddRoute(string, mqtt.MessageHandler) {}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// Published returns a copy of every recorded publish.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// Subscribed reports whether topic currently has a subscriber.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Deliver hands msg to the subscriber of its exact topic. It reports false
// when nobody subscribed.
func (c *Client) Deliver(msg *Message) bool {
	c.mu.Lock()
	h, ok := c.subs[msg.TopicName]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, msg)
	return true
}
