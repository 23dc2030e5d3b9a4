// Package tasks runs periodic callbacks cooperatively from a single loop.
//
// A Multiplexer never starts goroutines: Run executes every task that is due
// to completion, in due order, and returns. The caller's loop decides how
// often Run is invoked.
package tasks

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Func is a periodic callback. now is the multiplexer's clock reading at the
// moment the task was picked.
type Func func(ctx context.Context, now time.Time)

type task struct {
	name     string
	schedule cron.Schedule
	fn       Func
	next     time.Time
	seq      int // registration order, breaks ties
	disabled bool
	index    int
}

// Multiplexer holds the task table. It is not safe for concurrent use; it
// belongs to the goroutine that calls Run.
type Multiplexer struct {
	now    func() time.Time
	queue  taskQueue
	byName map[string]*task
	seq    int
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Multiplexer) { m.now = now }
}

// New returns an empty Multiplexer.
func New(opts ...Option) *Multiplexer {
	m := &Multiplexer{
		now:    time.Now,
		byName: make(map[string]*task),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Every registers fn to run every d. The first run is due one interval after
// registration.
func (m *Multiplexer) Every(name string, d time.Duration, fn Func) error {
	return m.add(name, cron.Every(d), fn)
}

// Cron registers fn on a standard five-field cron expression.
func (m *Multiplexer) Cron(name, spec string, fn Func) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	return m.add(name, sched, fn)
}

func (m *Multiplexer) add(name string, sched cron.Schedule, fn Func) error {
	if _, dup := m.byName[name]; dup {
		return fmt.Errorf("task %s already registered", name)
	}
	t := &task{
		name:     name,
		schedule: sched,
		fn:       fn,
		next:     sched.Next(m.now()),
		seq:      m.seq,
	}
	m.seq++
	m.byName[name] = t
	heap.Push(&m.queue, t)
	return nil
}

// Disable stops a task from running again. Unknown names are ignored.
func (m *Multiplexer) Disable(name string) {
	if t, ok := m.byName[name]; ok {
		t.disabled = true
	}
}

// Enable re-arms a disabled task one interval from now.
func (m *Multiplexer) Enable(name string) {
	t, ok := m.byName[name]
	if !ok || !t.disabled {
		return
	}
	t.disabled = false
	t.next = t.schedule.Next(m.now())
	heap.Fix(&m.queue, t.index)
}

// Len returns the number of registered tasks.
func (m *Multiplexer) Len() int { return len(m.queue) }

// NextDue returns the earliest due time among enabled tasks.
func (m *Multiplexer) NextDue() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, t := range m.queue {
		if t.disabled {
			continue
		}
		if !found || t.next.Before(earliest) {
			earliest = t.next
			found = true
		}
	}
	return earliest, found
}

// Run executes every due task once and reschedules it from the time it ran.
// It returns the names of the tasks that ran, in execution order.
func (m *Multiplexer) Run(ctx context.Context) []string {
	now := m.now()
	var ran []string
	var due []*task

	for len(m.queue) > 0 && !m.queue[0].next.After(now) {
		due = append(due, heap.Pop(&m.queue).(*task))
	}

	for _, t := range due {
		if !t.disabled && ctx.Err() == nil {
			t.fn(ctx, now)
			ran = append(ran, t.name)
		}
		// a task that ran long must not fire again in the same pass
		t.next = t.schedule.Next(m.now())
		heap.Push(&m.queue, t)
	}
	return ran
}

// taskQueue is a min-heap on (next, seq).
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].seq < q[j].seq
	}
	return q[i].next.Before(q[j].next)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
