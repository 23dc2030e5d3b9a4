package messages

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
)

// Trigger names what opened a watering session.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerRemote   Trigger = "remote"
)

// StateChangeEvent is published every time the valve opens or closes.
type StateChangeEvent struct {
	NodeID    string              `json:"node_id"`
	SessionID string              `json:"session_id"`
	NewState  entities.ValveState `json:"new_state"`
	Trigger   Trigger             `json:"trigger"`
	Manual    bool                `json:"manual"`
	Duration  time.Duration       `json:"duration"` // on: planned length (0 for remote), off: elapsed
	Timestamp time.Time           `json:"timestamp"`
}
