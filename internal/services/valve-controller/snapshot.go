package valve_controller

import (
	"time"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
)

// Snapshot is an immutable view of the node published by the control loop
// after every iteration. Readers on other goroutines never touch live state.
type Snapshot struct {
	NodeID       string          `json:"node_id" yaml:"node_id"`
	Clock        time.Time       `json:"clock" yaml:"clock"`
	ClockSynced  bool            `json:"clock_synced" yaml:"clock_synced"`
	LastSyncAgo  float64         `json:"last_sync_ago_s" yaml:"last_sync_ago_s"`
	Valve        ValveStatus     `json:"valve" yaml:"valve"`
	Config       entities.Config `json:"config" yaml:"config"`
	ConfigReset  bool            `json:"config_reset" yaml:"config_reset"`
	TasksPending int             `json:"tasks" yaml:"tasks"`
}

type ValveStatus struct {
	Open       bool    `json:"open" yaml:"open"`
	Manual     bool    `json:"manual" yaml:"manual"`
	SessionID  string  `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Trigger    string  `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	ElapsedSec float64 `json:"elapsed_s" yaml:"elapsed_s"`
}

func (e *Engine) publish() {
	s := e.valve.Session()
	snap := &Snapshot{
		NodeID:      e.opts.NodeID,
		Clock:       e.clock.ReadNow(),
		Config:      e.state.Config(),
		ConfigReset: e.resetCfg,
		Valve: ValveStatus{
			Open:       s.Open,
			Manual:     s.Manual,
			SessionID:  s.ID,
			Trigger:    string(s.Trigger),
			ElapsedSec: e.valve.Elapsed().Seconds(),
		},
		TasksPending: e.mux.Len(),
	}
	if last, ok := e.clock.LastSync(); ok {
		snap.ClockSynced = true
		snap.LastSyncAgo = e.opts.Mono().Sub(last).Seconds()
	}
	e.snapshot.Store(snap)
}

// Snapshot returns the last published view. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	if s := e.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{NodeID: e.opts.NodeID}
}

// Map renders the snapshot with JSON-compatible values only.
func (s Snapshot) Map() map[string]any {
	slots := make([]any, 0, len(s.Config.Schedules))
	for i, sl := range s.Config.Schedules {
		slots = append(slots, map[string]any{
			"slot":    i + 1,
			"hour":    sl.Hour,
			"minute":  sl.Minute,
			"enabled": sl.Enabled,
		})
	}
	return map[string]any{
		"node_id":         s.NodeID,
		"clock":           s.Clock.Format(time.RFC3339),
		"clock_synced":    s.ClockSynced,
		"last_sync_ago_s": s.LastSyncAgo,
		"valve": map[string]any{
			"open":       s.Valve.Open,
			"manual":     s.Valve.Manual,
			"session_id": s.Valve.SessionID,
			"trigger":    s.Valve.Trigger,
			"elapsed_s":  s.Valve.ElapsedSec,
		},
		"config": map[string]any{
			"schedules":        slots,
			"duration_seconds": s.Config.DurationSeconds,
			"watering_count":   s.Config.WateringCount,
		},
		"config_reset": s.ConfigReset,
		"tasks":        s.TasksPending,
	}
}
