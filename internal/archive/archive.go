// Package archive reads and writes the task collection as a YAML document.
package archive

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"twodo/internal/task"
)

const Version = 1

var (
	ErrUnsupportedVersion = errors.New("unsupported archive version")
	ErrMalformed          = errors.New("malformed task record")
)

// Record is the on-disk shape of one task.
type Record struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Start       *time.Time `yaml:"start,omitempty"`
	End         *time.Time `yaml:"end,omitempty"`
	Alarm       string     `yaml:"alarm,omitempty"`
	Tags        []string   `yaml:"tags,omitempty"`
	Completed   bool       `yaml:"completed,omitempty"`
}

type Document struct {
	Version    int       `yaml:"version"`
	ExportedAt time.Time `yaml:"exported_at"`
	Tasks      []Record  `yaml:"tasks"`
}

func FromTask(t task.Task) Record {
	r := Record{
		Name:        t.Name,
		Description: t.Description,
		Tags:        append([]string(nil), t.Tags...),
		Completed:   t.Completed,
	}
	if t.Deadline != nil {
		start, end := t.Deadline.Start, t.Deadline.End
		r.Start, r.End = &start, &end
		if t.Deadline.Alarm > 0 {
			r.Alarm = t.Deadline.Alarm.String()
		}
	}
	return r
}

// Task converts r back, validating it on the way.
func (r Record) Task() (task.Task, error) {
	t := task.Task{
		Name:        r.Name,
		Description: r.Description,
		Tags:        task.NewTags(r.Tags...),
		Completed:   r.Completed,
	}
	switch {
	case r.Start == nil && r.End == nil:
		if r.Alarm != "" {
			return task.Task{}, fmt.Errorf("%w: alarm without a deadline", ErrMalformed)
		}
	case r.Start == nil || r.End == nil:
		return task.Task{}, fmt.Errorf("%w: deadline needs both start and end", ErrMalformed)
	default:
		var alarm time.Duration
		if r.Alarm != "" {
			d, err := time.ParseDuration(r.Alarm)
			if err != nil {
				return task.Task{}, fmt.Errorf("%w: alarm %q: %v", ErrMalformed, r.Alarm, err)
			}
			alarm = d
		}
		d, err := task.NewDeadline(*r.Start, *r.End, alarm)
		if err != nil {
			return task.Task{}, err
		}
		t.Deadline = d
	}
	if err := t.Validate(); err != nil {
		return task.Task{}, err
	}
	return t, nil
}

// Export writes tasks in store order.
func Export(w io.Writer, tasks []task.Task) error {
	doc := Document{Version: Version, ExportedAt: time.Now().UTC().Truncate(time.Second)}
	for _, t := range tasks {
		doc.Tasks = append(doc.Tasks, FromTask(t))
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	return enc.Close()
}

// Import decodes a document written by Export. Any bad record fails the
// whole import.
func Import(r io.Reader) ([]task.Task, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode archive: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	out := make([]task.Task, 0, len(doc.Tasks))
	for i, rec := range doc.Tasks {
		t, err := rec.Task()
		if err != nil {
			return nil, fmt.Errorf("task %d (%q): %w", i+1, rec.Name, err)
		}
		out = append(out, t)
	}
	return out, nil
}
