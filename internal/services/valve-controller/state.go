package valve_controller

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/storage"
)

// ConfigState is the in-memory copy of the persisted Config. Every mutation
// goes through Update so that a change is written to the store exactly once.
type ConfigState struct {
	cfg    entities.Config
	store  storage.ConfigStore
	logger zerolog.Logger
}

func NewConfigState(cfg entities.Config, store storage.ConfigStore, logger zerolog.Logger) *ConfigState {
	metrics.WateringCount.Set(float64(cfg.WateringCount))
	return &ConfigState{cfg: cfg, store: store, logger: logger}
}

// Config returns a copy of the current config.
func (s *ConfigState) Config() entities.Config { return s.cfg }

// Update applies fn to a copy of the config. When fn reports a change the
// copy becomes current and is saved. A save error is returned but the
// in-memory change is kept; the next successful save persists it.
func (s *ConfigState) Update(fn func(cfg *entities.Config) bool) (bool, error) {
	next := s.cfg
	if !fn(&next) {
		return false, nil
	}
	s.cfg = next
	metrics.WateringCount.Set(float64(next.WateringCount))

	err := s.store.Save(next)
	metrics.ConfigSaves.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Error().Err(err).Msg("config save failed")
	}
	return true, err
}

// Display logs the slots, the shared duration and the counter.
func (s *ConfigState) Display() {
	ev := s.logger.Info()
	for i, slot := range s.cfg.Schedules {
		ev = ev.Stringer(slotKey(i), slot)
	}
	ev.Int("duration_s", s.cfg.DurationSeconds).
		Int("watering_count", s.cfg.WateringCount).
		Msg("config")
}

func slotKey(i int) string {
	return "slot" + strconv.Itoa(i+1)
}
