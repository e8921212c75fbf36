package storage

import (
	"context"
	"sync"
	"time"

	"twodo/internal/bus"
	"twodo/internal/store"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

// Source is the in-memory collection a Syncer mirrors.
type Source interface {
	Tasks() []task.Task
	Reset(tasks []task.Task) error
}

// Syncer keeps one process's task store and the shared database in step.
// Local changes are written row by row; changes committed by other
// processes are picked up by Refresh.
type Syncer struct {
	l   pkgLog.Logger
	db  *Store
	src Source
	sub bus.Subscription

	mu      sync.Mutex
	rows    []row
	rev     int64
	pending *Snapshot
}

// Persist writes src to db after every change event. from is the snapshot
// src was loaded from. Failures are logged and the in-memory store stays
// authoritative.
func Persist(l pkgLog.Logger, db *Store, src Source, from Snapshot, changes *bus.Bus[store.Changed]) *Syncer {
	if l == nil {
		l = pkgLog.NewNop()
	}
	y := &Syncer{l: l, db: db, src: src, rows: from.rows, rev: from.Revision}
	y.sub = changes.Subscribe("storage", func(store.Changed) {
		if err := y.Sync(); err != nil {
			y.l.Errorf(context.Background(), "storage: save: %v", err)
		}
	})
	return y
}

// Stop ends persistence of change events.
func (y *Syncer) Stop() {
	y.sub.Unsubscribe()
}

// Sync writes whatever src holds that the database has not seen from this
// process yet.
func (y *Syncer) Sync() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	cur := y.src.Tasks()
	if y.pending != nil && sameRows(cur, y.pending.rows) {
		y.rows, y.rev = y.pending.rows, y.pending.Revision
		y.pending = nil
		return nil
	}
	next, rev, err := y.db.apply(y.rows, cur, y.rev)
	if err != nil {
		return err
	}
	y.rows, y.rev = next, rev
	return nil
}

// Refresh reloads src when another process committed since this one last
// read or wrote. It reports whether src was reset.
func (y *Syncer) Refresh() (bool, error) {
	rev, err := y.db.Revision()
	if err != nil {
		return false, err
	}
	y.mu.Lock()
	current := rev == y.rev
	y.mu.Unlock()
	if current {
		return false, nil
	}

	snap, err := y.db.Snapshot()
	if err != nil {
		return false, err
	}
	y.mu.Lock()
	y.pending = &snap
	y.mu.Unlock()
	if err := y.src.Reset(snap.Tasks); err != nil {
		y.mu.Lock()
		y.pending = nil
		y.mu.Unlock()
		return false, err
	}
	y.l.Debugf(context.Background(), "storage: reloaded %d task(s) at revision %d", len(snap.Tasks), snap.Revision)
	return true, nil
}

// Follow calls Refresh every interval until ctx is done.
func (y *Syncer) Follow(ctx context.Context, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := y.Refresh(); err != nil {
				y.l.Warnf(ctx, "storage: refresh: %v", err)
			}
		}
	}
}

func sameRows(tasks []task.Task, rows []row) bool {
	if len(tasks) != len(rows) {
		return false
	}
	for i, t := range tasks {
		if t.Key() != rows[i].key {
			return false
		}
	}
	return true
}
