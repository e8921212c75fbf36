package archive

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"twodo/internal/task"
)

func TestExportImport(t *testing.T) {
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	tasks := []task.Task{
		{Name: "Pay rent", Description: "landlord", Deadline: &task.Deadline{Start: start, End: start.Add(72 * time.Hour), Alarm: 30 * time.Minute}, Tags: task.NewTags("home", "money")},
		{Name: "Read a book", Completed: true},
	}

	var buf bytes.Buffer
	if err := Export(&buf, tasks); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.Contains(buf.String(), "version: 1") {
		t.Errorf("missing version header:\n%s", buf.String())
	}

	got, err := Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(got) != len(tasks) {
		t.Fatalf("expected %d tasks, got %d", len(tasks), len(got))
	}
	for i := range tasks {
		if !got[i].Equal(tasks[i]) {
			t.Errorf("task %d: got %v, want %v", i, got[i], tasks[i])
		}
	}
}

func TestImportRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "Unknown version",
			doc:  "version: 9\ntasks: []\n",
			want: ErrUnsupportedVersion,
		},
		{
			name: "Half a deadline",
			doc:  "version: 1\ntasks:\n  - name: x\n    start: 2024-05-06T09:00:00Z\n",
			want: ErrMalformed,
		},
		{
			name: "Start after end",
			doc:  "version: 1\ntasks:\n  - name: x\n    start: 2024-05-07T09:00:00Z\n    end: 2024-05-06T09:00:00Z\n",
			want: task.ErrInvalidDeadline,
		},
		{
			name: "Empty name",
			doc:  "version: 1\ntasks:\n  - name: \"\"\n",
			want: task.ErrEmptyName,
		},
		{
			name: "Bad alarm",
			doc:  "version: 1\ntasks:\n  - name: x\n    start: 2024-05-06T09:00:00Z\n    end: 2024-05-06T10:00:00Z\n    alarm: soon\n",
			want: ErrMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(strings.NewReader(tt.doc))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestImportEmpty(t *testing.T) {
	got, err := Import(strings.NewReader(""))
	if err != nil || len(got) != 0 {
		t.Errorf("empty input should import nothing, got %v, %v", got, err)
	}
}
