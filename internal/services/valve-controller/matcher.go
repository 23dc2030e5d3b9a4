package valve_controller

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
)

// Matcher fires a schedule slot on the rising edge of its match condition,
// so a slot fires at most once per matching minute however often Check runs.
type Matcher struct {
	state       *ConfigState
	valve       *Actuator
	logger      zerolog.Logger
	lastMatched [entities.SlotCount]bool
}

func NewMatcher(state *ConfigState, valve *Actuator, logger zerolog.Logger) *Matcher {
	return &Matcher{state: state, valve: valve, logger: logger}
}

func slotMatches(s entities.ScheduleEntry, now time.Time) bool {
	return s.Enabled && now.Hour() == s.Hour && now.Minute() == s.Minute && now.Second() == 0
}

// Check evaluates every slot against now. A firing slot opens the valve as
// a schedule session unless a session is already running; only an opened
// session increments and persists the counter. It returns the slots that
// opened the valve.
func (m *Matcher) Check(now time.Time) []int {
	var opened []int
	slots := m.state.Config().Schedules

	for i, slot := range slots {
		matches := slotMatches(slot, now)
		fire := matches && !m.lastMatched[i]
		m.lastMatched[i] = matches
		if !fire {
			continue
		}

		label := strconv.Itoa(i + 1)
		if m.valve.IsManual() || m.valve.IsWatering() {
			metrics.ScheduleFires.WithLabelValues(label, "skipped").Inc()
			m.logger.Info().Int("slot", i+1).Stringer("at", slot).Msg("schedule due while watering, skipped")
			continue
		}
		if !m.valve.Open(false) {
			metrics.ScheduleFires.WithLabelValues(label, "failed").Inc()
			continue
		}
		_, _ = m.state.Update(func(cfg *entities.Config) bool {
			cfg.WateringCount++
			return true
		})
		metrics.ScheduleFires.WithLabelValues(label, "opened").Inc()
		m.logger.Info().Int("slot", i+1).Stringer("at", slot).Msg("schedule active")
		opened = append(opened, i)
	}
	return opened
}
