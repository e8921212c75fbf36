package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"twodo/internal/task"
)

var ErrInvalidQuery = errors.New("invalid query")

// Spec selects tasks. Validate is called before any task is matched.
type Spec interface {
	Validate() error
	Match(t task.Task) bool
}

// ShowAll lists tasks by completion state, optionally restricted to tags or
// to floating tasks.
type ShowAll struct {
	Tags           []string
	OnlyFloating   bool
	WantIncomplete bool
}

func (q ShowAll) Validate() error {
	return validateTags(q.Tags)
}

func (q ShowAll) Match(t task.Task) bool {
	if !completionMatches(t, q.WantIncomplete) {
		return false
	}
	if q.OnlyFloating && !t.Floating() {
		return false
	}
	return tagsMatch(t, q.Tags)
}

type Bound int

const (
	BoundStart Bound = iota + 1
	BoundEnd
	BoundBoth
)

func (b Bound) String() string {
	switch b {
	case BoundStart:
		return "start"
	case BoundEnd:
		return "end"
	case BoundBoth:
		return "both"
	default:
		return fmt.Sprintf("bound(%d)", int(b))
	}
}

// Window is the reference range of a Period query. A zero time is a
// missing bound.
type Window struct {
	Start time.Time
	End   time.Time
}

// Period lists deadline tasks by where their start date falls relative to
// Window.
type Period struct {
	Window         Window
	Bound          Bound
	WantIncomplete bool
	Tags           []string
}

func (q Period) Validate() error {
	switch q.Bound {
	case BoundStart:
		if q.Window.Start.IsZero() {
			return fmt.Errorf("%w: start bound without a start date", ErrInvalidQuery)
		}
	case BoundEnd:
		if q.Window.End.IsZero() {
			return fmt.Errorf("%w: end bound without an end date", ErrInvalidQuery)
		}
	case BoundBoth:
		if q.Window.Start.IsZero() || q.Window.End.IsZero() {
			return fmt.Errorf("%w: both bounds required", ErrInvalidQuery)
		}
		if q.Window.Start.After(q.Window.End) {
			return fmt.Errorf("%w: window start is after its end", ErrInvalidQuery)
		}
	default:
		return fmt.Errorf("%w: unknown %s", ErrInvalidQuery, q.Bound)
	}
	return validateTags(q.Tags)
}

func (q Period) Match(t task.Task) bool {
	if t.Floating() || !completionMatches(t, q.WantIncomplete) {
		return false
	}
	start := t.Deadline.Start
	switch q.Bound {
	case BoundStart:
		if !start.After(q.Window.Start) {
			return false
		}
	case BoundEnd:
		if !start.Before(q.Window.End) {
			return false
		}
	case BoundBoth:
		if !start.After(q.Window.Start) || !start.Before(q.Window.End) {
			return false
		}
	default:
		return false
	}
	return tagsMatch(t, q.Tags)
}

// Keyword finds tasks whose name, tags, or (for deadline tasks) description
// contain one of Keywords as a whole word, ignoring case.
type Keyword struct {
	Keywords       []string
	WantIncomplete bool

	words *tokenizer
}

func (q Keyword) Validate() error {
	if len(q.Keywords) == 0 {
		return fmt.Errorf("%w: no keywords", ErrInvalidQuery)
	}
	for _, k := range q.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty keyword", ErrInvalidQuery)
		}
		if len(strings.Fields(k)) > 1 {
			return fmt.Errorf("%w: keyword %q is more than one word", ErrInvalidQuery, k)
		}
	}
	return nil
}

func (q Keyword) Match(t task.Task) bool {
	if !completionMatches(t, q.WantIncomplete) {
		return false
	}
	if q.anyWordIn(t.Name) {
		return true
	}
	if !t.Floating() && q.anyWordIn(t.Description) {
		return true
	}
	for _, tag := range t.Tags {
		if q.anyWordIn(tag) {
			return true
		}
	}
	return false
}

func (q Keyword) anyWordIn(s string) bool {
	words := q.words.words(s)
	for _, k := range q.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		for _, w := range words {
			if w == k {
				return true
			}
		}
	}
	return false
}

func completionMatches(t task.Task, wantIncomplete bool) bool {
	return t.Completed != wantIncomplete
}

// tagsMatch passes when filter is empty or some tag of t contains some
// filter entry, ignoring case.
func tagsMatch(t task.Task, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, tag := range t.Tags {
		lt := strings.ToLower(tag)
		for _, f := range filter {
			if strings.Contains(lt, strings.ToLower(f)) {
				return true
			}
		}
	}
	return false
}

func validateTags(tags []string) error {
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: empty tag filter", ErrInvalidQuery)
		}
	}
	return nil
}
