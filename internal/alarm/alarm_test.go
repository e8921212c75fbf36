package alarm

import (
	"sync"
	"testing"
	"time"

	"twodo/internal/bus"
	"twodo/internal/store"
	"twodo/internal/task"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every live timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) active() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

type recorder struct {
	mu      sync.Mutex
	batches []Reminder
}

func (r *recorder) record(rem Reminder) {
	r.mu.Lock()
	r.batches = append(r.batches, rem)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

var start = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

const lead = time.Hour

// dueIn returns a deadline task whose notification date is now+d under lead.
func dueIn(name string, d time.Duration) task.Task {
	end := start.Add(d + lead)
	return task.Task{Name: name, Deadline: &task.Deadline{Start: end.Add(-time.Hour), End: end}}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock(start)
	s := New(nil, clock, WithLead(lead))
	rec := &recorder{}
	s.Reminders().Subscribe("recorder", rec.record)
	return s, clock, rec
}

func containsTask(tasks []task.Task, t task.Task) bool {
	for _, c := range tasks {
		if c.Equal(t) {
			return true
		}
	}
	return false
}

func TestSingleDeadlineFiresOnce(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	deadline := dueIn("submit report", 5*time.Minute)
	floating := task.Task{Name: "someday"}

	s.Resync([]task.Task{deadline, floating})

	wake, armed := s.NextWake()
	if !armed || !wake.Equal(start.Add(5*time.Minute)) {
		t.Fatalf("expected armed for +5m, got %v (armed=%v)", wake, armed)
	}
	if s.State() != Armed {
		t.Fatalf("expected Armed, got %s", s.State())
	}

	clock.Advance(4 * time.Minute)
	if rec.count() != 0 {
		t.Fatalf("fired early")
	}
	clock.Advance(time.Minute)

	if rec.count() != 1 {
		t.Fatalf("expected exactly one reminder, got %d", rec.count())
	}
	got := rec.batches[0].Tasks
	if len(got) != 1 || !got[0].Equal(deadline) {
		t.Errorf("unexpected batch %v", got)
	}
	if rec.batches[0].ID == "" {
		t.Errorf("reminder must carry an id")
	}
	if len(s.Pending()) != 0 || s.State() != Idle {
		t.Errorf("expected empty pending and Idle, got %d and %s", len(s.Pending()), s.State())
	}
	if !containsTask(s.Notified(), deadline) {
		t.Errorf("fired task must be in notified")
	}

	clock.Advance(24 * time.Hour)
	if rec.count() != 1 {
		t.Errorf("task must not be announced twice")
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	tasks := []task.Task{
		dueIn("b", 2*time.Hour),
		dueIn("a", time.Hour),
		{Name: "sentinel", Deadline: &task.Deadline{Start: task.DefaultDate, End: task.DefaultDate}},
	}

	s.Resync(tasks)
	pending1, notified1 := s.Pending(), s.Notified()
	wake1, armed1 := s.NextWake()

	s.Resync(tasks)
	pending2, notified2 := s.Pending(), s.Notified()
	wake2, armed2 := s.NextWake()

	if len(pending1) != len(pending2) || len(notified1) != len(notified2) {
		t.Fatalf("set sizes changed: %d/%d vs %d/%d", len(pending1), len(notified1), len(pending2), len(notified2))
	}
	for i := range pending1 {
		if !pending1[i].Equal(pending2[i]) {
			t.Errorf("pending[%d] differs", i)
		}
	}
	if !wake1.Equal(wake2) || armed1 != armed2 {
		t.Errorf("wake-up changed: %v vs %v", wake1, wake2)
	}
	if n := len(clock.active()); n != 1 {
		t.Errorf("expected exactly one outstanding timer, got %d", n)
	}
}

func TestPendingAndNotifiedAreDisjoint(t *testing.T) {
	s, clock, _ := newTestScheduler(t)
	tasks := []task.Task{
		dueIn("soon", time.Minute),
		dueIn("later", time.Hour),
		dueIn("done", time.Minute).WithCompleted(true),
		{Name: "floating"},
		{Name: "sentinel", Deadline: &task.Deadline{Start: task.DefaultDate, End: task.DefaultDate.Add(lead)}},
	}
	s.Resync(tasks)
	clock.Advance(time.Minute)
	s.Resync(tasks)

	notified := s.Notified()
	for _, p := range s.Pending() {
		if containsTask(notified, p) {
			t.Errorf("%q is both pending and notified", p.Name)
		}
		if p.Floating() || p.Completed {
			t.Errorf("%q must not be pending", p.Name)
		}
	}
	if len(s.Pending()) != 1 || s.Pending()[0].Name != "later" {
		t.Errorf("expected only 'later' pending, got %v", s.Pending())
	}
}

func TestSentinelDatedTask(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	sentinel := task.Task{Name: "undated", Deadline: &task.Deadline{Start: task.DefaultDate, End: task.DefaultDate.Add(lead)}}
	beforeEpoch := task.Task{Name: "ancient", Deadline: &task.Deadline{Start: task.DefaultDate.Add(-48 * time.Hour), End: task.DefaultDate.Add(-time.Hour)}}

	s.Resync([]task.Task{sentinel, beforeEpoch})

	if len(s.Pending()) != 0 {
		t.Errorf("sentinel tasks must never be pending")
	}
	notified := s.Notified()
	if !containsTask(notified, sentinel) || !containsTask(notified, beforeEpoch) {
		t.Errorf("sentinel tasks must be in notified, got %v", notified)
	}
	if s.State() != Idle || len(clock.active()) != 0 {
		t.Errorf("no wake-up expected, state %s, %d timers", s.State(), len(clock.active()))
	}
	clock.Advance(time.Hour)
	if rec.count() != 0 {
		t.Errorf("sentinel tasks must not be announced")
	}
}

func TestSameNotificationDateSharesBatch(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	a := dueIn("a", 10*time.Minute)
	b := dueIn("b", 10*time.Minute)
	c := dueIn("c", 20*time.Minute)

	s.Resync([]task.Task{a, b, c})
	clock.Advance(10 * time.Minute)

	if rec.count() != 1 {
		t.Fatalf("expected one batch, got %d", rec.count())
	}
	batch := rec.batches[0].Tasks
	if len(batch) != 2 || !batch[0].Equal(a) || !batch[1].Equal(b) {
		t.Errorf("expected [a b], got %v", batch)
	}
	if wake, _ := s.NextWake(); !wake.Equal(start.Add(20 * time.Minute)) {
		t.Errorf("expected re-armed for c, got %v", wake)
	}
}

func TestDelayedWakeUpCollectsEverythingDue(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	s.Resync([]task.Task{dueIn("a", time.Minute), dueIn("b", 2*time.Minute), dueIn("c", time.Hour)})

	// Suspended past two notification dates; only the first timer exists.
	clock.mu.Lock()
	clock.now = clock.now.Add(3 * time.Minute)
	clock.mu.Unlock()
	clock.Advance(0)

	if rec.count() != 1 || len(rec.batches[0].Tasks) != 2 {
		t.Fatalf("expected one batch of two, got %v", rec.batches)
	}
	if len(s.Pending()) != 1 {
		t.Errorf("expected c still pending")
	}
}

func TestOverdueTaskFiresImmediately(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	s.Resync([]task.Task{dueIn("overdue", -time.Hour)})

	if wake, armed := s.NextWake(); !armed || !wake.Equal(start.Add(-time.Hour)) {
		t.Fatalf("expected armed for the past date, got %v", wake)
	}
	clock.Advance(0)
	if rec.count() != 1 {
		t.Errorf("overdue task must be announced on the next wake-up")
	}
}

func TestWakeUpWithNothingDue(t *testing.T) {
	t.Run("Superseded timer", func(t *testing.T) {
		s, clock, rec := newTestScheduler(t)
		s.Resync([]task.Task{dueIn("a", time.Minute)})
		stale := clock.last()

		s.Resync(nil)
		if s.State() != Idle {
			t.Fatalf("expected Idle after emptying, got %s", s.State())
		}
		stale.fn()
		if rec.count() != 0 {
			t.Errorf("stale wake-up must publish nothing")
		}
		if s.State() != Idle {
			t.Errorf("stale wake-up must not change state")
		}
	})

	t.Run("Early wake-up", func(t *testing.T) {
		s, clock, rec := newTestScheduler(t)
		a := dueIn("a", time.Minute)
		s.Resync([]task.Task{a})

		clock.last().fn()
		if rec.count() != 0 {
			t.Fatalf("nothing is due yet, got %d batches", rec.count())
		}
		if s.State() != Armed || len(s.Pending()) != 1 {
			t.Fatalf("expected still armed with a pending")
		}
		clock.Advance(time.Minute)
		if rec.count() != 1 {
			t.Errorf("expected the re-armed timer to fire")
		}
	})
}

func TestLeadChangeAffectsOnlyLaterResyncs(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	end := start.Add(48 * time.Hour)
	tk := task.Task{Name: "x", Deadline: &task.Deadline{Start: start, End: end}}

	s.Resync([]task.Task{tk})
	before, _ := s.NextWake()
	s.SetLead(24 * time.Hour)
	if after, _ := s.NextWake(); !after.Equal(before) {
		t.Fatalf("SetLead must not reschedule by itself")
	}
	if s.Lead() != 24*time.Hour {
		t.Errorf("lead not stored")
	}
	s.Resync([]task.Task{tk})
	if wake, _ := s.NextWake(); !wake.Equal(end.Add(-24 * time.Hour)) {
		t.Errorf("expected %v, got %v", end.Add(-24*time.Hour), wake)
	}
}

func TestPerTaskAlarmOverridesLead(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	end := start.Add(48 * time.Hour)
	s.Resync([]task.Task{{Name: "x", Deadline: &task.Deadline{Start: start, End: end, Alarm: 10 * time.Minute}}})
	if wake, _ := s.NextWake(); !wake.Equal(end.Add(-10 * time.Minute)) {
		t.Errorf("expected per-task alarm to win, got %v", wake)
	}
}

func TestWithDueEndDate(t *testing.T) {
	clock := newFakeClock(start)
	s := New(nil, clock, WithDue(EndDue), WithName("automark"))
	end := start.Add(2 * time.Hour)
	s.Resync([]task.Task{{Name: "x", Deadline: &task.Deadline{Start: start, End: end}}})
	if wake, _ := s.NextWake(); !wake.Equal(end) {
		t.Errorf("expected wake at end date, got %v", wake)
	}
}

func TestWatchFollowsStore(t *testing.T) {
	clock := newFakeClock(start)
	changes := bus.New[store.Changed](nil)
	st, err := store.New(nil, changes, []task.Task{dueIn("initial", time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	s := New(nil, clock, WithLead(lead))
	rec := &recorder{}
	s.Reminders().Subscribe("recorder", rec.record)
	s.Watch(st, changes)

	if len(s.Pending()) != 1 {
		t.Fatalf("Watch must resync immediately")
	}

	soon := dueIn("soon", time.Minute)
	if err := st.Add(soon); err != nil {
		t.Fatal(err)
	}
	if wake, _ := s.NextWake(); !wake.Equal(start.Add(time.Minute)) {
		t.Fatalf("add must re-arm for the earlier task, got %v", wake)
	}

	clock.Advance(time.Minute)
	if rec.count() != 1 {
		t.Fatalf("expected reminder for soon")
	}

	t.Run("Edit re-enters pending", func(t *testing.T) {
		edited := soon
		edited.Description = "with notes"
		if err := st.Update(soon, edited); err != nil {
			t.Fatal(err)
		}
		if !containsTask(s.Pending(), edited) {
			t.Errorf("edited task is a new identity and must be pending")
		}
	})

	t.Run("Readding identical task is not re-announced", func(t *testing.T) {
		if err := st.Add(soon); err != nil {
			t.Fatal(err)
		}
		if containsTask(s.Pending(), soon) {
			t.Errorf("identical task already notified must stay handled")
		}
	})

	t.Run("Completing removes from pending", func(t *testing.T) {
		initial := dueIn("initial", time.Hour)
		if err := st.Mark(initial); err != nil {
			t.Fatal(err)
		}
		if containsTask(s.Pending(), initial) || containsTask(s.Pending(), initial.WithCompleted(true)) {
			t.Errorf("completed task must leave pending")
		}
	})

	pendingBefore := len(s.Pending())
	s.Stop()
	if changes.Len() != 0 {
		t.Errorf("Stop must unsubscribe, %d subscriber(s) left", changes.Len())
	}
	if err := st.Add(dueIn("after stop", 0)); err != nil {
		t.Fatal(err)
	}
	if len(s.Pending()) != pendingBefore || s.State() != Idle {
		t.Errorf("stopped scheduler must ignore changes")
	}
}

func TestStopCancelsTimer(t *testing.T) {
	s, clock, rec := newTestScheduler(t)
	s.Resync([]task.Task{dueIn("a", time.Minute)})
	s.Stop()
	clock.Advance(time.Hour)
	if rec.count() != 0 {
		t.Errorf("stopped scheduler must not fire")
	}
	if len(clock.active()) != 0 {
		t.Errorf("timer must be stopped")
	}
}
