package datemath

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	p := NewParser(time.UTC)
	// Wednesday
	base := time.Date(2024, 5, 8, 14, 30, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		in     string
		want   time.Time
		allDay bool
	}{
		{in: "today", want: day(2024, 5, 8), allDay: true},
		{in: "Tomorrow", want: day(2024, 5, 9), allDay: true},
		{in: "yesterday", want: day(2024, 5, 7), allDay: true},
		{in: "in 3 days", want: day(2024, 5, 11), allDay: true},
		{in: "in 2 weeks", want: day(2024, 5, 22), allDay: true},
		{in: "in 1 month", want: day(2024, 6, 8), allDay: true},
		{in: "next friday", want: day(2024, 5, 10), allDay: true},
		{in: "next wednesday", want: day(2024, 5, 15), allDay: true},
		{in: "tomorrow 09:15", want: time.Date(2024, 5, 9, 9, 15, 0, 0, time.UTC)},
		{in: "next monday at 8:00", want: time.Date(2024, 5, 13, 8, 0, 0, 0, time.UTC)},
		{in: "18:00", want: time.Date(2024, 5, 8, 18, 0, 0, 0, time.UTC)},
		{in: "2024-12-24", want: day(2024, 12, 24), allDay: true},
		{in: "2024-12-24 20:30", want: time.Date(2024, 12, 24, 20, 30, 0, 0, time.UTC)},
		{in: "now", want: base},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := p.Parse(tt.in, base)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if !got.Time.Equal(tt.want) || got.AllDay != tt.allDay {
				t.Errorf("Parse(%q) = %v (allDay %v), want %v (allDay %v)", tt.in, got.Time, got.AllDay, tt.want, tt.allDay)
			}
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	p := NewParser(time.UTC)
	base := time.Date(2024, 5, 8, 14, 30, 0, 0, time.UTC)
	for _, in := range []string{"", "someday", "next blursday", "in many days", "tomorrow 25:00", "2024-13-01"} {
		if _, err := p.Parse(in, base); !errors.Is(err, ErrUnrecognised) {
			t.Errorf("Parse(%q): expected ErrUnrecognised, got %v", in, err)
		}
	}
}

func TestDeadlineMovesAllDayToEndOfDay(t *testing.T) {
	p := NewParser(time.UTC)
	base := time.Date(2024, 5, 8, 14, 30, 0, 0, time.UTC)

	got, err := p.Deadline("tomorrow", base)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 9, 23, 59, 59, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = p.Deadline("tomorrow 10:00", base)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 5, 9, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
