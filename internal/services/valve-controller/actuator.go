package valve_controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/metrics"
)

// Session is the current watering session. Open and Watering always agree
// outside of a transition.
type Session struct {
	Open      bool
	Watering  bool
	Manual    bool
	ID        string
	Trigger   messages.Trigger
	OpenedAt  time.Time // monotonic reading, used for elapsed time
	StartedAt time.Time // wall clock, used for events
}

// Actuator is the only component that drives the valve relay.
type Actuator struct {
	nodeID   string
	relay    hardware.Pin
	led      hardware.Pin
	mono     func() time.Time
	wall     func() time.Time
	notifier Notifier
	logger   zerolog.Logger
	planned  func() time.Duration

	session Session
}

func NewActuator(nodeID string, board *hardware.Board, mono, wall func() time.Time, notifier Notifier, logger zerolog.Logger) *Actuator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Actuator{
		nodeID:   nodeID,
		relay:    board.Relay,
		led:      board.LED,
		mono:     mono,
		wall:     wall,
		notifier: notifier,
		logger:   logger,
	}
}

// PlanWith sets the source of the planned length reported for schedule
// sessions.
func (a *Actuator) PlanWith(fn func() time.Duration) { a.planned = fn }

// Session returns a copy of the current session.
func (a *Actuator) Session() Session { return a.session }

func (a *Actuator) IsWatering() bool { return a.session.Watering }

func (a *Actuator) IsManual() bool { return a.session.Manual }

// Elapsed is the time since the session opened, zero when closed.
func (a *Actuator) Elapsed() time.Duration {
	if !a.session.Open {
		return 0
	}
	return a.mono().Sub(a.session.OpenedAt)
}

// Open energizes the relay and starts a session. It does nothing when the
// valve is already open. It reports whether a session was started; a relay
// error leaves the valve closed.
func (a *Actuator) Open(manual bool) bool {
	if a.session.Open {
		return false
	}
	if err := a.relay.On(); err != nil {
		a.logger.Error().Err(err).Msg("relay on failed")
		return false
	}
	_ = a.led.On()

	trigger := messages.TriggerSchedule
	if manual {
		trigger = messages.TriggerRemote
	}
	a.session = Session{
		Open:      true,
		Watering:  true,
		Manual:    manual,
		ID:        uuid.NewString(),
		Trigger:   trigger,
		OpenedAt:  a.mono(),
		StartedAt: a.wall(),
	}
	metrics.ValveOpen.Set(1)
	metrics.BoolGauge(metrics.ManualSession, manual)

	a.logger.Info().
		Str("session_id", a.session.ID).
		Str("trigger", string(trigger)).
		Str("at", a.session.StartedAt.Format("15:04:05")).
		Msg("valve opened")

	var planned time.Duration
	if !manual && a.planned != nil {
		planned = a.planned()
	}
	a.notifier.StateChanged(context.Background(), messages.StateChangeEvent{
		NodeID:    a.nodeID,
		SessionID: a.session.ID,
		NewState:  model.StateOn,
		Trigger:   trigger,
		Manual:    manual,
		Duration:  planned,
		Timestamp: a.session.StartedAt,
	})
	return true
}

// Close de-energizes the relay and ends the session. It does nothing when
// the valve is already closed. It returns the session length and whether a
// session was closed; a relay error keeps the session open.
func (a *Actuator) Close(reason string) (time.Duration, bool) {
	if !a.session.Open {
		return 0, false
	}
	if err := a.relay.Off(); err != nil {
		a.logger.Error().Err(err).Str("reason", reason).Msg("relay off failed")
		return 0, false
	}
	_ = a.led.Off()

	elapsed := a.mono().Sub(a.session.OpenedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	closed := a.session
	a.session = Session{}
	now := a.wall()

	metrics.ValveOpen.Set(0)
	metrics.ManualSession.Set(0)
	metrics.SessionDuration.WithLabelValues(string(closed.Trigger)).Observe(elapsed.Seconds())

	a.logger.Info().
		Str("session_id", closed.ID).
		Str("reason", reason).
		Str("at", now.Format("15:04:05")).
		Dur("elapsed", elapsed).
		Msg("valve closed")

	ctx := context.Background()
	a.notifier.StateChanged(ctx, messages.StateChangeEvent{
		NodeID:    a.nodeID,
		SessionID: closed.ID,
		NewState:  model.StateOff,
		Trigger:   closed.Trigger,
		Manual:    closed.Manual,
		Duration:  elapsed,
		Timestamp: now,
	})

	status := "OK"
	if reason == messages.ReasonShutdown {
		status = "FAIL"
	}
	a.notifier.SessionClosed(ctx, messages.IrrigationResultEvent{
		NodeID:     a.nodeID,
		SessionID:  closed.ID,
		Trigger:    closed.Trigger,
		Status:     status,
		Reason:     reason,
		ElapsedSec: elapsed.Seconds(),
		StartedAt:  closed.StartedAt,
		Timestamp:  now,
	})
	return elapsed, true
}
