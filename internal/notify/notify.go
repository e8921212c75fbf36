// Package notify delivers reminder batches to the user.
package notify

import (
	"context"
	"strings"

	"twodo/internal/alarm"
	"twodo/internal/bus"
	pkgLog "twodo/pkg/log"
)

// Sink receives one reminder batch.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, r alarm.Reminder) error
}

// Attach subscribes every sink to reminders. Delivery errors are logged.
func Attach(l pkgLog.Logger, reminders *bus.Bus[alarm.Reminder], sinks ...Sink) []bus.Subscription {
	if l == nil {
		l = pkgLog.NewNop()
	}
	subs := make([]bus.Subscription, 0, len(sinks))
	for _, s := range sinks {
		sink := s
		subs = append(subs, reminders.Subscribe("notify:"+sink.Name(), func(r alarm.Reminder) {
			ctx := context.Background()
			if err := sink.Deliver(ctx, r); err != nil {
				l.Errorf(ctx, "notify: %s: %v", sink.Name(), err)
			}
		}))
	}
	return subs
}

// Logger writes one structured line per batch.
type Logger struct {
	l pkgLog.Logger
}

func NewLogger(l pkgLog.Logger) *Logger {
	return &Logger{l: l}
}

func (s *Logger) Name() string { return "log" }

func (s *Logger) Deliver(ctx context.Context, r alarm.Reminder) error {
	names := make([]string, len(r.Tasks))
	for i, t := range r.Tasks {
		names[i] = t.Name
	}
	s.l.Infof(ctx, "reminder %s: %d task(s) due: %s", r.ID, len(r.Tasks), strings.Join(names, ", "))
	return nil
}
