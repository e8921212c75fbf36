package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"twodo/internal/alarm"
	"twodo/internal/bus"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

func sampleReminder() alarm.Reminder {
	end := time.Date(2024, 5, 6, 18, 0, 0, 0, time.UTC)
	return alarm.Reminder{
		ID: "r-1",
		At: end.Add(-time.Hour),
		Tasks: []task.Task{
			{Name: "Pay rent", Deadline: &task.Deadline{Start: end, End: end}, Tags: task.NewTags("home")},
			{Name: "Call mum", Deadline: &task.Deadline{Start: end, End: end}},
		},
	}
}

type failingSink struct{}

func (failingSink) Name() string { return "failing" }
func (failingSink) Deliver(context.Context, alarm.Reminder) error {
	return errors.New("boom")
}

func TestAttach(t *testing.T) {
	reminders := bus.New[alarm.Reminder](nil)
	var buf bytes.Buffer
	subs := Attach(pkgLog.NewNop(), reminders, failingSink{}, NewPrinter(&buf), NewLogger(pkgLog.NewNop()))
	if len(subs) != 3 || reminders.Len() != 3 {
		t.Fatalf("expected 3 subscriptions")
	}

	reminders.Publish(sampleReminder())
	if !strings.Contains(buf.String(), "Pay rent") {
		t.Errorf("a failing sink must not stop the others, got %q", buf.String())
	}

	for _, s := range subs {
		s.Unsubscribe()
	}
	if reminders.Len() != 0 {
		t.Errorf("expected all sinks detached")
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinter(&buf).Deliver(context.Background(), sampleReminder()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Reminder", "Pay rent", "Call mum", "2024-05-06 18:00", "#home"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "\n") != 3 {
		t.Errorf("expected banner plus one line per task, got:\n%s", out)
	}
}

type captureRunner struct {
	mu    sync.Mutex
	calls []HookPayload
	cmds  []string
}

func (c *captureRunner) run(_ context.Context, command string, stdin []byte) error {
	var p HookPayload
	if err := yaml.Unmarshal(stdin, &p); err != nil {
		return err
	}
	c.mu.Lock()
	c.calls = append(c.calls, p)
	c.cmds = append(c.cmds, command)
	c.mu.Unlock()
	return nil
}

func TestHook(t *testing.T) {
	t.Run("Payload", func(t *testing.T) {
		rec := &captureRunner{}
		h := NewHook(nil, "notify-send", 60, rec.run)
		if err := h.Deliver(context.Background(), sampleReminder()); err != nil {
			t.Fatal(err)
		}
		h.Wait()

		if len(rec.calls) != 1 || rec.cmds[0] != "notify-send" {
			t.Fatalf("expected one call, got %d", len(rec.calls))
		}
		p := rec.calls[0]
		if p.ID != "r-1" || len(p.Tasks) != 2 || p.Tasks[0].Name != "Pay rent" {
			t.Errorf("unexpected payload %+v", p)
		}
	})

	t.Run("Rate limited", func(t *testing.T) {
		rec := &captureRunner{}
		h := NewHook(nil, "true", 1, rec.run)
		if err := h.Deliver(context.Background(), sampleReminder()); err != nil {
			t.Fatal(err)
		}
		if err := h.Deliver(context.Background(), sampleReminder()); !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		h.Wait()
		if len(rec.calls) != 1 {
			t.Errorf("dropped batch must not run, got %d calls", len(rec.calls))
		}
	})
}
