package valve_controller

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/rabbitmq"
)

// Notifier receives valve and config events. Implementations must not block
// the control loop for long and must not fail it: errors are theirs to log.
type Notifier interface {
	StateChanged(ctx context.Context, evt messages.StateChangeEvent)
	SessionClosed(ctx context.Context, evt messages.IrrigationResultEvent)
	ScheduleChanged(ctx context.Context, evt messages.ScheduleChangedEvent)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) StateChanged(context.Context, messages.StateChangeEvent)        {}
func (NopNotifier) SessionClosed(context.Context, messages.IrrigationResultEvent)  {}
func (NopNotifier) ScheduleChanged(context.Context, messages.ScheduleChangedEvent) {}

// Notifiers fans every event out in order.
type Notifiers []Notifier

func (ns Notifiers) StateChanged(ctx context.Context, evt messages.StateChangeEvent) {
	for _, n := range ns {
		n.StateChanged(ctx, evt)
	}
}

func (ns Notifiers) SessionClosed(ctx context.Context, evt messages.IrrigationResultEvent) {
	for _, n := range ns {
		n.SessionClosed(ctx, evt)
	}
}

func (ns Notifiers) ScheduleChanged(ctx context.Context, evt messages.ScheduleChangedEvent) {
	for _, n := range ns {
		n.ScheduleChanged(ctx, evt)
	}
}

type PublisherFactory func(topic string) rabbitmq.IPublisher

// Topic templates; {node} is replaced with the node id.
const (
	DefaultStateTopic    = "valve/{node}/state"
	DefaultResultTopic   = "valve/{node}/result"
	DefaultScheduleTopic = "valve/{node}/config"
)

// MQTTNotifier publishes events as JSON on per-node topics. State and result
// go out at QoS 1; the config snapshot is retained so late subscribers see
// the current schedule.
type MQTTNotifier struct {
	makePublisher PublisherFactory
	stateTopic    string
	resultTopic   string
	scheduleTopic string
	logger        zerolog.Logger
}

func NewMQTTNotifier(nodeID string, factory PublisherFactory, logger zerolog.Logger) *MQTTNotifier {
	return &MQTTNotifier{
		makePublisher: factory,
		stateTopic:    formatTopic(DefaultStateTopic, nodeID),
		resultTopic:   formatTopic(DefaultResultTopic, nodeID),
		scheduleTopic: formatTopic(DefaultScheduleTopic, nodeID),
		logger:        logger,
	}
}

func formatTopic(tmpl, nodeID string) string {
	return strings.NewReplacer("{node}", nodeID).Replace(tmpl)
}

func (n *MQTTNotifier) publish(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		n.logger.Error().Err(err).Str("topic", topic).Msg("encode event")
		return
	}
	if err := n.makePublisher(topic).PublishMessageQos(1, retained, payload); err != nil {
		n.logger.Warn().Err(err).Str("topic", topic).Msg("publish event failed")
	}
}

func (n *MQTTNotifier) StateChanged(_ context.Context, evt messages.StateChangeEvent) {
	n.publish(n.stateTopic, false, evt)
}

func (n *MQTTNotifier) SessionClosed(_ context.Context, evt messages.IrrigationResultEvent) {
	n.publish(n.resultTopic, false, evt)
}

func (n *MQTTNotifier) ScheduleChanged(_ context.Context, evt messages.ScheduleChangedEvent) {
	n.publish(n.scheduleTopic, true, evt)
}
