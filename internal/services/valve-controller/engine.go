package valve_controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/log"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/storage"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/tasks"
)

// ===================== Options =====================

// Intervals are the task cadences of the control loop.
type Intervals struct {
	ScheduleCheck time.Duration
	RemotePoll    time.Duration
	ScheduleSync  time.Duration
	ClockCheck    time.Duration
	Heartbeat     time.Duration
}

func DefaultIntervals() Intervals {
	return Intervals{
		ScheduleCheck: time.Second,
		RemotePoll:    5 * time.Second,
		ScheduleSync:  time.Minute,
		ClockCheck:    time.Minute,
		Heartbeat:     2 * time.Second,
	}
}

// Deps are the collaborators of the engine.
type Deps struct {
	Store    storage.ConfigStore
	Board    *hardware.Board
	RTC      hardware.RTC
	Net      hardware.TimeSource
	Remote   Remote
	Notifier Notifier
}

// Options tune the engine. Zero values take defaults.
type Options struct {
	NodeID     string
	Location   *time.Location
	Intervals  Intervals
	StaleAfter time.Duration
	NTPTimeout time.Duration
	// LoopTick is the pause between loop iterations.
	LoopTick time.Duration
	// Mono is the monotonic clock used for sessions and tasks.
	Mono func() time.Time
	// Sleep is used by the blink patterns.
	Sleep func(time.Duration)
}

// ===================== Engine =====================

// Engine owns the config, the valve session and the task table. Everything
// that mutates them runs on the goroutine executing Run; other goroutines
// reach the engine through submitted commands or read the published
// Snapshot.
type Engine struct {
	opts     Options
	board    *hardware.Board
	notifier Notifier
	logger   zerolog.Logger

	state      *ConfigState
	clock      *ClockSource
	valve      *Actuator
	matcher    *Matcher
	reconciler *Reconciler
	mux        *tasks.Multiplexer

	commands  chan func()
	snapshot  atomic.Pointer[Snapshot]
	lastBlink time.Time
	lastCheck time.Time
	resetCfg  bool
}

// ErrRTCUnavailable is returned by Setup when the RTC cannot start.
var ErrRTCUnavailable = errors.New("RTC unavailable")

// NewEngine loads the config (resetting it to defaults if the store holds
// nothing valid) and wires the components.
func NewEngine(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil || deps.Board == nil || deps.RTC == nil || deps.Net == nil || deps.Remote == nil {
		return nil, errors.New("engine: missing dependency")
	}
	opts = withDefaults(opts)
	logger := log.WithNodeID(opts.NodeID)

	cfg, reset, err := storage.LoadOrInit(deps.Store)
	if err != nil && !reset {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if reset {
		logger.Info().Msg("initializing default configuration")
	} else {
		logger.Info().Msg("configuration loaded from storage")
	}
	if err != nil {
		logger.Error().Err(err).Msg("default configuration not persisted")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	e := &Engine{
		opts:     opts,
		board:    deps.Board,
		notifier: notifier,
		logger:   logger,
		commands: make(chan func(), 8),
		resetCfg: reset,
	}
	e.state = NewConfigState(cfg, deps.Store, logger.With().Str("component", "config").Logger())
	e.clock = NewClockSource(deps.RTC, deps.Net, opts.Location, opts.Mono, logger.With().Str("component", "clock").Logger())
	e.clock.SetStaleness(opts.StaleAfter, opts.NTPTimeout)

	e.valve = NewActuator(opts.NodeID, deps.Board, opts.Mono, e.clock.ReadNow, notifier, logger.With().Str("component", "valve").Logger())
	e.valve.PlanWith(func() time.Duration {
		return e.state.Config().Duration()
	})
	e.matcher = NewMatcher(e.state, e.valve, logger.With().Str("component", "matcher").Logger())
	e.reconciler = NewReconciler(deps.Remote, e.state, e.valve, logger.With().Str("component", "reconciler").Logger())
	e.reconciler.OnSchedulesChanged(func(cfg entities.Config) {
		e.notifier.ScheduleChanged(context.Background(), messages.ScheduleChangedEvent{
			NodeID:          opts.NodeID,
			Schedules:       cfg.Schedules,
			DurationSeconds: cfg.DurationSeconds,
			Timestamp:       e.clock.ReadNow(),
		})
	})

	e.mux = tasks.New(tasks.WithClock(opts.Mono))
	e.publish()
	return e, nil
}

func withDefaults(o Options) Options {
	def := DefaultIntervals()
	if o.Intervals.ScheduleCheck <= 0 {
		o.Intervals.ScheduleCheck = def.ScheduleCheck
	}
	if o.Intervals.RemotePoll <= 0 {
		o.Intervals.RemotePoll = def.RemotePoll
	}
	if o.Intervals.ScheduleSync <= 0 {
		o.Intervals.ScheduleSync = def.ScheduleSync
	}
	if o.Intervals.ClockCheck <= 0 {
		o.Intervals.ClockCheck = def.ClockCheck
	}
	if o.Intervals.Heartbeat <= 0 {
		o.Intervals.Heartbeat = def.Heartbeat
	}
	if o.NodeID == "" {
		o.NodeID = "node-1"
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.LoopTick <= 0 {
		o.LoopTick = 20 * time.Millisecond
	}
	if o.Mono == nil {
		o.Mono = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Setup brings the node up: relay off, RTC started, config shown, first
// network time sync, periodic tasks registered, startup blink. An RTC
// failure blinks the error pattern and is returned; the node must not run
// without a clock.
func (e *Engine) Setup(ctx context.Context) error {
	if err := e.board.Relay.Off(); err != nil {
		return fmt.Errorf("reset relay: %w", err)
	}
	_ = e.board.LED.Off()

	lostPower, err := e.clock.Begin()
	if err != nil {
		e.logger.Error().Err(err).Msg("RTC not found")
		e.blink(10, 100*time.Millisecond)
		return fmt.Errorf("%w: %v", ErrRTCUnavailable, err)
	}
	e.state.Display()

	if !e.clock.TrySyncFromNetwork(ctx, e.clock.timeout) && lostPower {
		e.logger.Warn().Msg("RTC time untrusted until network time is reachable")
	}

	if err := e.registerTasks(); err != nil {
		return err
	}
	e.logger.Info().
		Str("intent_every", e.opts.Intervals.RemotePoll.String()).
		Str("sync_every", e.opts.Intervals.ScheduleSync.String()).
		Msg("system ready")

	e.blink(3, 200*time.Millisecond)
	e.lastBlink = e.opts.Mono()
	e.publish()
	return nil
}

func (e *Engine) registerTasks() error {
	iv := e.opts.Intervals
	reg := []struct {
		name string
		d    time.Duration
		fn   tasks.Func
	}{
		{"schedule", iv.ScheduleCheck, func(context.Context, time.Time) { e.checkSchedule(e.clock.ReadNow()) }},
		{"intent", iv.RemotePoll, func(ctx context.Context, _ time.Time) { e.reconciler.PollIntent(ctx) }},
		{"schedules", iv.ScheduleSync, func(ctx context.Context, _ time.Time) { _, _ = e.reconciler.SyncSchedules(ctx) }},
		{"clock", iv.ClockCheck, func(ctx context.Context, _ time.Time) { e.clock.PeriodicResync(ctx) }},
	}
	for _, r := range reg {
		if err := e.mux.Every(r.name, r.d, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// maxCatchUp bounds how many skipped seconds checkSchedule replays after a
// stalled loop iteration. Larger gaps are clock jumps and are not replayed.
const maxCatchUp = 15 * time.Second

// checkSchedule evaluates the matcher at whole-second resolution. Seconds
// skipped since the previous check (a blocking remote call, a slow NTP
// query) are evaluated in order so a second-zero match is not lost.
func (e *Engine) checkSchedule(now time.Time) {
	now = now.Truncate(time.Second)
	if gap := now.Sub(e.lastCheck); !e.lastCheck.IsZero() && gap > time.Second && gap <= maxCatchUp {
		for t := e.lastCheck.Add(time.Second); t.Before(now); t = t.Add(time.Second) {
			e.matcher.Check(t)
		}
	}
	e.lastCheck = now
	e.matcher.Check(now)
}

// Run executes the control loop until ctx is done. A valve left open is
// closed on the way out.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.LoopTick)
	defer ticker.Stop()
	defer e.shutdown()

	for {
		e.Step(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Step is one loop iteration: due tasks, pending commands, auto-close,
// heartbeat, snapshot.
func (e *Engine) Step(ctx context.Context) {
	e.mux.Run(ctx)
	e.drainCommands()
	e.enforceDuration()
	e.heartbeat()
	e.publish()
}

// Start runs Setup and then Run.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Setup(ctx); err != nil {
		return err
	}
	return e.Run(ctx)
}

func (e *Engine) drainCommands() {
	for {
		select {
		case fn := <-e.commands:
			fn()
		default:
			return
		}
	}
}

// enforceDuration closes a schedule session once it has run for the
// configured duration. Manual sessions only close on a remote OFF.
func (e *Engine) enforceDuration() {
	if !e.valve.IsWatering() || e.valve.IsManual() {
		return
	}
	if e.valve.Elapsed() >= e.state.Config().Duration() {
		if _, ok := e.valve.Close(messages.ReasonDuration); ok {
			e.logger.Info().Msg("auto-close: watering duration reached")
		}
	}
}

// heartbeat toggles the LED while idle; the actuator holds it on while
// watering.
func (e *Engine) heartbeat() {
	if e.valve.IsWatering() {
		return
	}
	now := e.opts.Mono()
	if now.Sub(e.lastBlink) >= e.opts.Intervals.Heartbeat {
		_ = e.board.LED.Toggle()
		e.lastBlink = now
	}
}

func (e *Engine) blink(n int, period time.Duration) {
	for i := 0; i < n; i++ {
		_ = e.board.LED.On()
		e.opts.Sleep(period)
		_ = e.board.LED.Off()
		e.opts.Sleep(period)
	}
}

func (e *Engine) shutdown() {
	if _, ok := e.valve.Close(messages.ReasonShutdown); ok {
		e.logger.Warn().Msg("valve closed on shutdown")
	}
	_ = e.board.LED.Off()
	e.publish()
}

// ===================== Commands =====================

// Command states: a queued command is either claimed by the loop or
// abandoned by its caller, never both.
const (
	cmdQueued int32 = iota
	cmdRunning
	cmdAbandoned
)

// submit runs fn on the loop goroutine and waits for it. If ctx ends while
// the command is still queued, fn never runs; once the loop has claimed it,
// submit waits for it to finish so results written by fn are safe to read.
func (e *Engine) submit(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	cmd := func() {
		if !state.CompareAndSwap(cmdQueued, cmdRunning) {
			return
		}
		defer close(done)
		fn()
	}

	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(cmdQueued, cmdAbandoned) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

// SetClock parses a "DD/MM/YYYY HH:MM" string and adjusts the RTC.
// Invalid input changes nothing.
func (e *Engine) SetClock(ctx context.Context, value string) (time.Time, error) {
	t, err := ParseManualTime(value, e.opts.Location)
	if err != nil {
		e.logger.Warn().Err(err).Msg("manual time rejected")
		return time.Time{}, err
	}
	var now time.Time
	if err := e.submit(ctx, func() {
		e.clock.Set(t)
		e.lastCheck = time.Time{}
		now = e.clock.ReadNow()
	}); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// SyncClock forces a network time sync regardless of staleness.
func (e *Engine) SyncClock(ctx context.Context) (bool, error) {
	var ok bool
	err := e.submit(ctx, func() {
		ok = e.clock.TrySyncFromNetwork(ctx, e.clock.timeout)
		e.lastCheck = time.Time{}
	})
	return ok, err
}

// ShowConfig logs the current config from the loop goroutine.
func (e *Engine) ShowConfig(ctx context.Context) error {
	return e.submit(ctx, e.state.Display)
}
