package messages

import "time"

// Close reasons.
const (
	ReasonDuration = "duration" // auto-close after the configured duration
	ReasonRemote   = "remote"   // remote OFF on a manual session
	ReasonShutdown = "shutdown" // node stopping with the valve open
)

// IrrigationResultEvent is published when a watering session closes.
type IrrigationResultEvent struct {
	NodeID     string    `json:"node_id"`
	SessionID  string    `json:"session_id"`
	Trigger    Trigger   `json:"trigger"`
	Status     string    `json:"status"` // "OK" | "FAIL"
	Reason     string    `json:"reason"`
	ElapsedSec float64   `json:"elapsed_sec"`
	StartedAt  time.Time `json:"started_at"`
	Timestamp  time.Time `json:"timestamp"`
}
