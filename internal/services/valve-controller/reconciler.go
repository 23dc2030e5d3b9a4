package valve_controller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
)

// Reconciler turns the remote intent and the remote schedule list into
// local actions. It never closes a session it did not open.
type Reconciler struct {
	remote Remote
	state  *ConfigState
	valve  *Actuator
	logger zerolog.Logger

	// onSchedulesChanged runs after a sync pass rewrote the config.
	onSchedulesChanged func(entities.Config)
}

func NewReconciler(remote Remote, state *ConfigState, valve *Actuator, logger zerolog.Logger) *Reconciler {
	return &Reconciler{remote: remote, state: state, valve: valve, logger: logger}
}

// OnSchedulesChanged registers fn to run after a sync pass changed the config.
func (r *Reconciler) OnSchedulesChanged(fn func(entities.Config)) {
	r.onSchedulesChanged = fn
}

// PollIntent fetches the remote valve intent and applies it. Fetch and
// decode failures are logged and otherwise ignored; the next poll retries.
func (r *Reconciler) PollIntent(ctx context.Context) {
	intent, err := r.remote.FetchIntent(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Str("endpoint", "intent").Msg("intent poll failed")
		return
	}
	r.ApplyIntent(intent.Status)
}

// ApplyIntent opens a manual session on ON when nothing is watering and
// closes the current session on OFF only when it is manual.
func (r *Reconciler) ApplyIntent(status messages.IntentStatus) {
	switch status {
	case messages.IntentOn:
		if r.valve.IsWatering() {
			return
		}
		if r.valve.Open(true) {
			r.logger.Info().Msg("remote control: valve opened")
		}
	case messages.IntentOff:
		if !r.valve.IsWatering() || !r.valve.IsManual() {
			return
		}
		if _, ok := r.valve.Close(messages.ReasonRemote); ok {
			r.logger.Info().Msg("remote control: valve closed")
		}
	}
}

// SyncSchedules fetches the remote schedule list and reconciles the local
// slots with it. It reports whether the config changed.
func (r *Reconciler) SyncSchedules(ctx context.Context) (bool, error) {
	list, err := r.remote.FetchSchedules(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("endpoint", "schedules").Msg("schedule sync failed")
		return false, err
	}
	r.logger.Debug().Int("count", len(list)).Msg("schedules received")

	next, changed, err := ReconcileSchedules(r.state.Config(), list)
	if err != nil {
		r.logger.Warn().Err(err).Msg("schedule sync aborted, config unchanged")
		return false, err
	}
	if !changed {
		r.logger.Debug().Msg("no schedule changes")
		return false, nil
	}

	_, err = r.state.Update(func(cfg *entities.Config) bool {
		cfg.Schedules = next.Schedules
		cfg.DurationSeconds = next.DurationSeconds
		return true
	})
	r.logger.Info().Msg("schedules synchronized from server")
	r.state.Display()
	if r.onSchedulesChanged != nil {
		r.onSchedulesChanged(r.state.Config())
	}
	return true, err
}

// ReconcileSchedules computes the config a schedule list asks for.
// Position i of the list maps to slot i; entries past the last slot are
// ignored and slots the list does not reach are disabled. The shared
// duration comes from the last entry used and is bounded to one day.
// Every used entry is parsed before anything changes, so a bad entry leaves
// cfg untouched.
func ReconcileSchedules(cfg entities.Config, list []messages.RemoteSchedule) (entities.Config, bool, error) {
	if len(list) > entities.SlotCount {
		list = list[:entities.SlotCount]
	}

	type parsed struct {
		hour, minute int
	}
	times := make([]parsed, len(list))
	for i, item := range list {
		h, m, err := item.Clock()
		if err != nil {
			return cfg, false, fmt.Errorf("schedule %d: %w", i+1, err)
		}
		if item.DurationMinutes < 0 || item.DurationMinutes > messages.MaxDurationMinutes {
			return cfg, false, fmt.Errorf("schedule %d: %w: duration_minutes %d out of range",
				i+1, messages.ErrMalformedPayload, item.DurationMinutes)
		}
		times[i] = parsed{h, m}
	}

	next := cfg
	changed := false
	for i, item := range list {
		want := entities.ScheduleEntry{Hour: times[i].hour, Minute: times[i].minute, Enabled: item.Active}
		if next.Schedules[i] != want {
			next.Schedules[i] = want
			changed = true
		}
	}
	for i := len(list); i < entities.SlotCount; i++ {
		if next.Schedules[i].Enabled {
			next.Schedules[i].Enabled = false
			changed = true
		}
	}
	if len(list) > 0 {
		seconds := list[len(list)-1].DurationMinutes * 60
		if next.DurationSeconds != seconds {
			next.DurationSeconds = seconds
			changed = true
		}
	}
	return next, changed, nil
}
