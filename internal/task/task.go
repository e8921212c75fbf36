package task

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyName       = errors.New("task name is empty")
	ErrInvalidDeadline = errors.New("deadline start is after its end")
	ErrNegativeAlarm   = errors.New("deadline alarm is negative")
)

// DefaultDate marks "no real deadline". Anything whose notification date is
// not strictly after it is never scheduled.
var DefaultDate = time.Unix(0, 0).UTC()

// Deadline is the time window of a task. Alarm overrides the configured lead
// interval when non-zero.
type Deadline struct {
	Start time.Time
	End   time.Time
	Alarm time.Duration
}

func NewDeadline(start, end time.Time, alarm time.Duration) (*Deadline, error) {
	d := &Deadline{Start: start, End: end, Alarm: alarm}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d Deadline) Validate() error {
	if d.Start.After(d.End) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDeadline,
			d.Start.Format(time.RFC3339), d.End.Format(time.RFC3339))
	}
	if d.Alarm < 0 {
		return ErrNegativeAlarm
	}
	return nil
}

// NotificationDate is End minus the per-task alarm, or minus lead when the
// task has none.
func (d Deadline) NotificationDate(lead time.Duration) time.Time {
	if d.Alarm > 0 {
		lead = d.Alarm
	}
	return d.End.Add(-lead)
}

func (d Deadline) Equal(o Deadline) bool {
	return d.Start.Equal(o.Start) && d.End.Equal(o.End) && d.Alarm == o.Alarm
}

// Tags is a set of labels kept sorted so equal sets compare equal.
type Tags []string

func NewTags(names ...string) Tags {
	out := make(Tags, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (t Tags) Has(name string) bool {
	return slices.Contains(t, name)
}

func (t Tags) String() string {
	return strings.Join(t, ",")
}

type Task struct {
	Name        string
	Description string
	Deadline    *Deadline
	Tags        Tags
	Completed   bool
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if t.Deadline != nil {
		return t.Deadline.Validate()
	}
	return nil
}

// Floating reports whether the task has no deadline.
func (t Task) Floating() bool {
	return t.Deadline == nil
}

func (t Task) WithCompleted(done bool) Task {
	t.Completed = done
	return t
}

// Equal compares every field; two tasks are the same task iff Equal.
func (t Task) Equal(o Task) bool {
	if t.Name != o.Name || t.Description != o.Description || t.Completed != o.Completed {
		return false
	}
	if !slices.Equal(NewTags(t.Tags...), NewTags(o.Tags...)) {
		return false
	}
	switch {
	case t.Deadline == nil && o.Deadline == nil:
		return true
	case t.Deadline == nil || o.Deadline == nil:
		return false
	default:
		return t.Deadline.Equal(*o.Deadline)
	}
}

// Key encodes the structural identity of t. Equal tasks have equal keys.
func (t Task) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(t.Name))
	b.WriteByte('|')
	b.WriteString(strconv.Quote(t.Description))
	b.WriteByte('|')
	if t.Deadline != nil {
		fmt.Fprintf(&b, "%d/%d/%d", t.Deadline.Start.UnixNano(), t.Deadline.End.UnixNano(), int64(t.Deadline.Alarm))
	} else {
		b.WriteByte('-')
	}
	b.WriteByte('|')
	for _, tag := range NewTags(t.Tags...) {
		b.WriteString(strconv.Quote(tag))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatBool(t.Completed))
	return b.String()
}

func (t Task) String() string {
	var b strings.Builder
	b.WriteString(t.Name)
	if t.Deadline != nil {
		fmt.Fprintf(&b, " [%s -> %s]", t.Deadline.Start.Format("2006-01-02 15:04"), t.Deadline.End.Format("2006-01-02 15:04"))
	}
	if len(t.Tags) > 0 {
		b.WriteString(" #" + strings.Join(t.Tags, " #"))
	}
	return b.String()
}
