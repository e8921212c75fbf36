package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"twodo/internal/bus"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrDuplicate = errors.New("task already exists")
)

// Changed is published after every successful mutation.
type Changed struct{}

// Store owns the ordered task list. Mutations are serialized and announce
// themselves on the change bus before returning.
type Store struct {
	l       pkgLog.Logger
	changes *bus.Bus[Changed]

	// writeMu serializes mutations including their publish step; mu guards
	// tasks and is released before publishing so subscribers can read.
	writeMu sync.Mutex
	mu      sync.RWMutex
	tasks   []task.Task
}

func New(l pkgLog.Logger, changes *bus.Bus[Changed], initial []task.Task) (*Store, error) {
	if l == nil {
		l = pkgLog.NewNop()
	}
	if changes == nil {
		changes = bus.New[Changed](l)
	}
	tasks, err := validateAll(initial)
	if err != nil {
		return nil, err
	}
	return &Store{l: l, changes: changes, tasks: tasks}, nil
}

// Changes returns the bus change events are published on.
func (s *Store) Changes() *bus.Bus[Changed] {
	return s.changes
}

// Tasks returns the current collection in store order.
func (s *Store) Tasks() []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Contains reports whether a task structurally equal to t is stored.
func (s *Store) Contains(t task.Task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(t) >= 0
}

func (s *Store) Add(t task.Task) error {
	return s.mutate("add", func() error {
		if err := t.Validate(); err != nil {
			return err
		}
		if s.indexOf(t) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, t.Name)
		}
		s.tasks = append(s.tasks, t)
		return nil
	})
}

func (s *Store) Delete(target task.Task) error {
	return s.mutate("delete", func() error {
		i := s.indexOf(target)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, target.Name)
		}
		s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
		return nil
	})
}

// Update replaces target with edited at the same position. It is a removal
// followed by an insertion, so the edited task is a new identity for every
// observer. An edit that changes nothing is accepted silently.
func (s *Store) Update(target, edited task.Task) error {
	if target.Equal(edited) {
		if !s.Contains(target) {
			return fmt.Errorf("%w: %s", ErrNotFound, target.Name)
		}
		return nil
	}
	return s.mutate("update", func() error {
		return s.replace(target, edited)
	})
}

func (s *Store) Mark(target task.Task) error {
	return s.setCompleted(target, true)
}

func (s *Store) Unmark(target task.Task) error {
	return s.setCompleted(target, false)
}

func (s *Store) setCompleted(target task.Task, done bool) error {
	if target.Completed == done {
		if !s.Contains(target) {
			return fmt.Errorf("%w: %s", ErrNotFound, target.Name)
		}
		return nil
	}
	op := "unmark"
	if done {
		op = "mark"
	}
	return s.mutate(op, func() error {
		return s.replace(target, target.WithCompleted(done))
	})
}

// Reset replaces the whole collection.
func (s *Store) Reset(tasks []task.Task) error {
	return s.mutate("reset", func() error {
		next, err := validateAll(tasks)
		if err != nil {
			return err
		}
		s.tasks = next
		return nil
	})
}

// replace must be called with mu held for writing.
func (s *Store) replace(target, edited task.Task) error {
	if err := edited.Validate(); err != nil {
		return err
	}
	i := s.indexOf(target)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, target.Name)
	}
	if j := s.indexOf(edited); j >= 0 && j != i {
		return fmt.Errorf("%w: %s", ErrDuplicate, edited.Name)
	}
	s.tasks[i] = edited
	return nil
}

func (s *Store) mutate(op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	err := fn()
	n := len(s.tasks)
	s.mu.Unlock()
	if err != nil {
		s.l.Debugf(context.Background(), "store: %s rejected: %v", op, err)
		return err
	}

	s.l.Debugf(context.Background(), "store: %s ok, %d task(s)", op, n)
	s.changes.Publish(Changed{})
	return nil
}

func (s *Store) indexOf(t task.Task) int {
	for i, c := range s.tasks {
		if c.Equal(t) {
			return i
		}
	}
	return -1
}

func validateAll(tasks []task.Task) ([]task.Task, error) {
	out := make([]task.Task, 0, len(tasks))
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		k := t.Key()
		if _, ok := seen[k]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, t.Name)
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
