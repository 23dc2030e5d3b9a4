package valve_controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/hardware"
	"github.com/LeonardoBeccarini/irrigation_node/pkg/storage"
)

// fakeClock is a manually advanced monotonic clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRTC runs off the fake clock plus an offset set by Adjust.
type fakeRTC struct {
	mu       sync.Mutex
	clock    *fakeClock
	offset   time.Duration
	beginErr error
	lost     bool
}

func (r *fakeRTC) Begin() error { return r.beginErr }

func (r *fakeRTC) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Now().Add(r.offset)
}

func (r *fakeRTC) Adjust(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = t.Sub(r.clock.Now())
}

func (r *fakeRTC) LostPower() bool { return r.lost }

// fakeNet answers network time queries with a fixed time or error.
type fakeNet struct {
	mu    sync.Mutex
	t     time.Time
	err   error
	calls int
}

func (n *fakeNet) Query(context.Context, time.Duration) (time.Time, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.t, n.err
}

func (n *fakeNet) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// fakeRemote serves canned intents and schedule lists.
type fakeRemote struct {
	intent    messages.ValveIntent
	intentErr error
	list      []messages.RemoteSchedule
	listErr   error
}

func (r *fakeRemote) FetchIntent(context.Context) (messages.ValveIntent, error) {
	return r.intent, r.intentErr
}

func (r *fakeRemote) FetchSchedules(context.Context) ([]messages.RemoteSchedule, error) {
	return r.list, r.listErr
}

// recorder keeps every notified event.
type recorder struct {
	mu        sync.Mutex
	states    []messages.StateChangeEvent
	results   []messages.IrrigationResultEvent
	schedules []messages.ScheduleChangedEvent
}

func (r *recorder) StateChanged(_ context.Context, e messages.StateChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e)
}

func (r *recorder) SessionClosed(_ context.Context, e messages.IrrigationResultEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, e)
}

func (r *recorder) ScheduleChanged(_ context.Context, e messages.ScheduleChangedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules = append(r.schedules, e)
}

func (r *recorder) Results() []messages.IrrigationResultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]messages.IrrigationResultEvent(nil), r.results...)
}

// rig is an engine wired to fakes.
type rig struct {
	engine *Engine
	clock  *fakeClock
	rtc    *fakeRTC
	net    *fakeNet
	remote *fakeRemote
	store  *storage.MemoryStore
	board  *hardware.Board
	events *recorder
}

// start is the fake monotonic origin; the RTC starts equal to it.
var start = time.Date(2025, 6, 1, 5, 59, 58, 0, time.UTC)

func newRig(t *testing.T, seed *entities.Config) *rig {
	t.Helper()
	return newRigWith(t, seed, nil)
}

// newRigWith uses remote instead of the fake when it is not nil.
func newRigWith(t *testing.T, seed *entities.Config, remote Remote) *rig {
	t.Helper()
	clock := newFakeClock(start)
	r := &rig{
		clock:  clock,
		rtc:    &fakeRTC{clock: clock},
		net:    &fakeNet{err: context.DeadlineExceeded},
		remote: &fakeRemote{},
		store:  storage.NewMemoryStore(seed),
		board:  hardware.NewSimBoard(),
		events: &recorder{},
	}
	if remote == nil {
		remote = r.remote
	}
	e, err := NewEngine(Deps{
		Store:    r.store,
		Board:    r.board,
		RTC:      r.rtc,
		Net:      r.net,
		Remote:   remote,
		Notifier: r.events,
	}, Options{
		NodeID:   "node-test",
		Location: time.UTC,
		LoopTick: time.Millisecond,
		Mono:     clock.Now,
		Sleep:    func(time.Duration) {},
	})
	require.NoError(t, err)
	r.engine = e
	return r
}

func defaultSeed() *entities.Config {
	c := entities.DefaultConfig()
	return &c
}

func (r *rig) relay() *hardware.SimPin { return r.board.Relay.(*hardware.SimPin) }
func (r *rig) led() *hardware.SimPin   { return r.board.LED.(*hardware.SimPin) }

func nopLogger() zerolog.Logger { return zerolog.Nop() }
