package messages

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
)

// ScheduleChangedEvent is published after a schedule sync rewrote the config.
type ScheduleChangedEvent struct {
	NodeID          string                                     `json:"node_id"`
	Schedules       [entities.SlotCount]entities.ScheduleEntry `json:"schedules"`
	DurationSeconds int                                        `json:"duration_seconds"`
	Timestamp       time.Time                                  `json:"timestamp"`
}
