// Package automark completes tasks whose end date has passed.
package automark

import (
	"context"
	"errors"

	"twodo/internal/alarm"
	"twodo/internal/bus"
	"twodo/internal/store"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

// Marker is the store operation automark needs.
type Marker interface {
	Mark(t task.Task) error
}

// AutoMarker reuses the alarm state machine keyed on end date and marks
// every batch it fires as completed.
type AutoMarker struct {
	l      pkgLog.Logger
	marker Marker
	sched  *alarm.Scheduler
}

func New(l pkgLog.Logger, clock alarm.Clock, marker Marker) *AutoMarker {
	if l == nil {
		l = pkgLog.NewNop()
	}
	a := &AutoMarker{
		l:      l,
		marker: marker,
		sched:  alarm.New(l, clock, alarm.WithDue(alarm.EndDue), alarm.WithName("automark")),
	}
	a.sched.Reminders().Subscribe("automark", a.markAll)
	return a
}

// Watch follows src through changes.
func (a *AutoMarker) Watch(src alarm.Source, changes *bus.Bus[store.Changed]) {
	a.sched.Watch(src, changes)
}

func (a *AutoMarker) Stop() {
	a.sched.Stop()
}

func (a *AutoMarker) markAll(r alarm.Reminder) {
	ctx := context.Background()
	for _, t := range r.Tasks {
		err := a.marker.Mark(t)
		switch {
		case err == nil:
			a.l.Infof(ctx, "automark: %q completed past its deadline", t.Name)
		case errors.Is(err, store.ErrNotFound):
			a.l.Debugf(ctx, "automark: %q changed before it could be marked", t.Name)
		default:
			a.l.Warnf(ctx, "automark: mark %q: %v", t.Name, err)
		}
	}
}
