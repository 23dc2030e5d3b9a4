package event

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	msg "github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// Event types.
const (
	TypeStateChange     = "valve.state_change"
	TypeSession         = "valve.session"
	TypeScheduleChanged = "valve.schedule_changed"
)

type CommonEvent struct {
	EventType     string // valve.state_change | valve.session | valve.schedule_changed
	SourceService string // valve-controller
	NodeID        string
	Tags          map[string]string // extra low-cardinality tags
	Severity      string            // info|warning|error
	Fields        map[string]interface{}
	Timestamp     time.Time
}

const sourceValveController = "valve-controller"

// FromStateChange converte un cambio di stato della valvola.
func FromStateChange(s msg.StateChangeEvent) CommonEvent {
	return CommonEvent{
		EventType:     TypeStateChange,
		SourceService: sourceValveController,
		NodeID:        s.NodeID,
		Tags: map[string]string{
			"trigger":    string(s.Trigger),
			"session_id": s.SessionID,
		},
		Severity: "info",
		Fields: map[string]interface{}{
			"new_state": string(s.NewState),
			"manual":    s.Manual,
			"duration":  s.Duration.Seconds(),
		},
		Timestamp: s.Timestamp,
	}
}

// FromResult converte la chiusura di una sessione di irrigazione.
func FromResult(r msg.IrrigationResultEvent) CommonEvent {
	sev := "info"
	if strings.EqualFold(r.Status, "FAIL") {
		sev = "warning"
	}
	return CommonEvent{
		EventType:     TypeSession,
		SourceService: sourceValveController,
		NodeID:        r.NodeID,
		Tags: map[string]string{
			"trigger":    string(r.Trigger),
			"reason":     r.Reason,
			"session_id": r.SessionID,
		},
		Severity: sev,
		Fields: map[string]interface{}{
			"status":      r.Status,
			"elapsed_sec": r.ElapsedSec,
			"started_at":  r.StartedAt.UTC().Format(time.RFC3339),
		},
		Timestamp: r.Timestamp,
	}
}

// FromScheduleChanged converte una nuova configurazione degli slot.
func FromScheduleChanged(c msg.ScheduleChangedEvent) CommonEvent {
	fields := map[string]interface{}{
		"duration_seconds": int64(c.DurationSeconds),
	}
	for i, s := range c.Schedules {
		key := "slot" + string(rune('1'+i))
		fields[key] = s.String()
	}
	return CommonEvent{
		EventType:     TypeScheduleChanged,
		SourceService: sourceValveController,
		NodeID:        c.NodeID,
		Severity:      "info",
		Fields:        fields,
		Timestamp:     c.Timestamp,
	}
}

// MQTTHandler trasforma messaggi MQTT valve/{node}/... in CommonEvent e li passa al sink.
type MQTTHandler struct{ sink func(CommonEvent) }

func NewMQTTHandler(sink func(CommonEvent)) *MQTTHandler { return &MQTTHandler{sink: sink} }

func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	evt, err := Decode(m.Topic(), m.Payload())
	if err != nil {
		return err
	}
	if evt.EventType == "" {
		return nil // ignora altri topic
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

// Decode maps a valve topic and its payload to a CommonEvent. Unknown topics
// yield a zero event and no error.
func Decode(topic string, payload []byte) (CommonEvent, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "valve" {
		return CommonEvent{}, nil
	}
	node := parts[1]

	var evt CommonEvent
	switch parts[2] {
	case "state":
		var s msg.StateChangeEvent
		if err := json.Unmarshal(payload, &s); err != nil {
			return CommonEvent{}, err
		}
		evt = FromStateChange(s)
	case "result":
		var r msg.IrrigationResultEvent
		if err := json.Unmarshal(payload, &r); err != nil {
			return CommonEvent{}, err
		}
		evt = FromResult(r)
	case "config":
		var c msg.ScheduleChangedEvent
		if err := json.Unmarshal(payload, &c); err != nil {
			return CommonEvent{}, err
		}
		evt = FromScheduleChanged(c)
	default:
		return CommonEvent{}, nil
	}
	// il nodo nel payload ha la precedenza, il topic fa da fallback
	if strings.TrimSpace(evt.NodeID) == "" {
		evt.NodeID = node
	}
	if evt.NodeID == "" {
		return CommonEvent{}, errors.New("valve event: missing node")
	}
	return evt, nil
}
