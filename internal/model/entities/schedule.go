package entities

import (
	"fmt"
	"time"
)

// SlotCount is the number of schedule slots a node keeps.
const SlotCount = 3

// MaxDurationSeconds caps the shared watering duration (one day).
const MaxDurationSeconds = 24 * 60 * 60

// ConfigMagic marks a persisted Config as initialized.
const ConfigMagic = 54321

// ScheduleEntry is one daily watering start time.
type ScheduleEntry struct {
	Hour    int  `json:"hour"`    // 0-23
	Minute  int  `json:"minute"`  // 0-59
	Enabled bool `json:"enabled"` // slot takes part in matching
}

func (s ScheduleEntry) String() string {
	state := "off"
	if s.Enabled {
		state = "on"
	}
	return fmt.Sprintf("%02d:%02d (%s)", s.Hour, s.Minute, state)
}

// Config is the persisted state of the node.
type Config struct {
	Schedules       [SlotCount]ScheduleEntry `json:"schedules"`
	DurationSeconds int                      `json:"duration_seconds"` // shared by every slot
	WateringCount   int                      `json:"watering_count"`   // lifetime schedule firings
	Magic           int                      `json:"magic"`
}

// DefaultConfig returns the factory configuration.
func DefaultConfig() Config {
	return Config{
		Schedules: [SlotCount]ScheduleEntry{
			{Hour: 6, Minute: 0, Enabled: true},
			{Hour: 18, Minute: 0, Enabled: true},
			{Hour: 12, Minute: 0, Enabled: false},
		},
		DurationSeconds: 30,
		WateringCount:   0,
		Magic:           ConfigMagic,
	}
}

// Valid reports whether the config carries the validity marker.
func (c Config) Valid() bool { return c.Magic == ConfigMagic }

// Duration is the shared watering duration, saturated to
// [0, MaxDurationSeconds].
func (c Config) Duration() time.Duration {
	s := c.DurationSeconds
	if s < 0 {
		s = 0
	}
	if s > MaxDurationSeconds {
		s = MaxDurationSeconds
	}
	return time.Duration(s) * time.Second
}
