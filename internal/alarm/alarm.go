// Package alarm keeps a pending queue of upcoming deadlines and wakes once
// for the earliest of them, announcing everything due in a single batch.
package alarm

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"twodo/internal/bus"
	"twodo/internal/store"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

const DefaultLead = 24 * time.Hour

type State int

const (
	Idle State = iota
	Armed
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	default:
		return "unknown"
	}
}

// Reminder is one batch of tasks that became due on the same wake-up.
type Reminder struct {
	ID    string
	At    time.Time
	Tasks []task.Task
}

// DueFunc computes when a task should be announced.
type DueFunc func(t task.Task, lead time.Duration) time.Time

// NotificationDue schedules on the task's notification date.
func NotificationDue(t task.Task, lead time.Duration) time.Time {
	return t.Deadline.NotificationDate(lead)
}

// EndDue schedules on the task's end date and ignores lead.
func EndDue(t task.Task, _ time.Duration) time.Time {
	return t.Deadline.End
}

type Option func(*Scheduler)

func WithLead(d time.Duration) Option {
	return func(s *Scheduler) { s.lead = d }
}

func WithDue(fn DueFunc) Option {
	return func(s *Scheduler) { s.due = fn }
}

// WithReminders publishes batches on b instead of a private bus.
func WithReminders(b *bus.Bus[Reminder]) Option {
	return func(s *Scheduler) { s.reminders = b }
}

// WithName labels the scheduler in log lines.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

type entry struct {
	t   task.Task
	key string
	at  time.Time
}

// Scheduler is a mutex-guarded state machine. Resync rebuilds the pending
// queue from scratch and arms at most one timer; a wake-up moves every due
// task to the notified set and publishes them together.
type Scheduler struct {
	l         pkgLog.Logger
	clock     Clock
	name      string
	due       DueFunc
	reminders *bus.Bus[Reminder]

	// fireMu keeps wake-up bodies, including delivery, from overlapping.
	fireMu sync.Mutex

	mu       sync.Mutex
	state    State
	lead     time.Duration
	pending  []entry
	notified map[string]task.Task
	timer    Timer
	gen      uint64
	wake     time.Time
	stopped  bool
	subs     []bus.Subscription
}

func New(l pkgLog.Logger, clock Clock, opts ...Option) *Scheduler {
	if l == nil {
		l = pkgLog.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	s := &Scheduler{
		l:        l,
		clock:    clock,
		name:     "deadline",
		due:      NotificationDue,
		lead:     DefaultLead,
		notified: make(map[string]task.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reminders == nil {
		s.reminders = bus.New[Reminder](l)
	}
	return s
}

// Reminders returns the bus batches are published on.
func (s *Scheduler) Reminders() *bus.Bus[Reminder] {
	return s.reminders
}

// Source is the live task collection the scheduler follows.
type Source interface {
	Tasks() []task.Task
}

// Watch resyncs from src on every change event and once immediately.
func (s *Scheduler) Watch(src Source, changes *bus.Bus[store.Changed]) bus.Subscription {
	sub := changes.Subscribe("alarm:"+s.name, func(store.Changed) {
		s.Resync(src.Tasks())
	})
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	s.Resync(src.Tasks())
	return sub
}

// Resync rebuilds the pending queue from tasks and re-arms the timer.
// Calling it twice with the same tasks leaves the same state as calling it
// once.
func (s *Scheduler) Resync(tasks []task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.pending = s.pending[:0]
	for _, t := range tasks {
		if t.Floating() || t.Completed {
			continue
		}
		key := t.Key()
		if _, ok := s.notified[key]; ok {
			continue
		}
		s.pending = append(s.pending, entry{t: t, key: key, at: s.due(t, s.lead)})
	}
	slices.SortStableFunc(s.pending, func(a, b entry) int {
		return a.at.Compare(b.at)
	})

	n := 0
	for n < len(s.pending) && !s.pending[n].at.After(task.DefaultDate) {
		s.notified[s.pending[n].key] = s.pending[n].t
		n++
	}
	if n > 0 {
		s.l.Debugf(context.Background(), "alarm[%s]: %d task(s) without a real date marked handled", s.name, n)
		s.pending = slices.Delete(s.pending, 0, n)
	}

	s.arm()
}

// arm must be called with mu held.
func (s *Scheduler) arm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 {
		s.state = Idle
		s.wake = time.Time{}
		s.l.Debugf(context.Background(), "alarm[%s]: idle", s.name)
		return
	}

	at := s.pending[0].at
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen) })
	s.wake = at
	s.state = Armed
	s.l.Debugf(context.Background(), "alarm[%s]: armed for %s, %d pending", s.name, at.Format(time.RFC3339), len(s.pending))
}

func (s *Scheduler) fire(gen uint64) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = Firing
	now := s.clock.Now()

	var batch []task.Task
	n := 0
	for n < len(s.pending) && !s.pending[n].at.After(now) {
		e := s.pending[n]
		s.notified[e.key] = e.t
		batch = append(batch, e.t)
		n++
	}
	s.pending = slices.Delete(s.pending, 0, n)
	s.arm()
	s.mu.Unlock()

	if len(batch) == 0 {
		s.l.Debugf(context.Background(), "alarm[%s]: woke with nothing due", s.name)
		return
	}
	s.l.Infof(context.Background(), "alarm[%s]: %d task(s) due", s.name, len(batch))
	s.reminders.Publish(Reminder{ID: uuid.NewString(), At: now, Tasks: batch})
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the queued tasks in firing order.
func (s *Scheduler) Pending() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, len(s.pending))
	for i, e := range s.pending {
		out[i] = e.t
	}
	return out
}

// Notified returns the handled tasks ordered by identity key.
func (s *Scheduler) Notified() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.notified))
	for k := range s.notified {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]task.Task, len(keys))
	for i, k := range keys {
		out[i] = s.notified[k]
	}
	return out
}

// NextWake reports the armed wake-up time.
func (s *Scheduler) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake, s.state == Armed
}

// SetLead changes the lead interval used by later resyncs.
func (s *Scheduler) SetLead(d time.Duration) {
	s.mu.Lock()
	s.lead = d
	s.mu.Unlock()
}

func (s *Scheduler) Lead() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lead
}

// Stop cancels the timer and detaches from every watched bus. The
// scheduler ignores later resyncs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = Idle
	s.wake = time.Time{}
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
