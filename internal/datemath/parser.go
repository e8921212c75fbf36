// Package datemath turns the deadline phrases typed at the command line
// into absolute times.
package datemath

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrUnrecognised = errors.New("unrecognised date")

var (
	inPattern   = regexp.MustCompile(`^in (\d+) (day|days|week|weeks|month|months)$`)
	clockSuffix = regexp.MustCompile(`^(.*?)\s*(?:at\s+)?(\d{1,2}):(\d{2})$`)
	absLayouts  = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"}
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Result is a parsed date. AllDay is set when no time of day was given.
type Result struct {
	Time   time.Time
	AllDay bool
}

// Parser converts date phrases relative to a base time.
type Parser struct {
	location *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{location: loc}
}

// Parse accepts today, tomorrow, yesterday, "in N days|weeks|months",
// "next <weekday>" and ISO dates, each optionally followed by HH:MM.
func (p *Parser) Parse(text string, base time.Time) (Result, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty", ErrUnrecognised)
	}
	if text == "now" {
		return Result{Time: base.In(p.location)}, nil
	}

	for _, layout := range absLayouts {
		if t, err := time.ParseInLocation(layout, text, p.location); err == nil {
			return Result{Time: t, AllDay: !strings.Contains(layout, "15")}, nil
		}
	}

	day, clock := text, ""
	if m := clockSuffix.FindStringSubmatch(text); m != nil {
		day, clock = m[1], m[2]+":"+m[3]
		if day == "" {
			day = "today"
		}
	}

	d, err := p.day(day, base)
	if err != nil {
		return Result{}, err
	}
	if clock == "" {
		return Result{Time: d, AllDay: true}, nil
	}
	h, m, err := parseClock(clock)
	if err != nil {
		return Result{}, err
	}
	return Result{Time: d.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)}, nil
}

// Deadline is Parse with all-day results moved to the end of that day.
func (p *Parser) Deadline(text string, base time.Time) (time.Time, error) {
	r, err := p.Parse(text, base)
	if err != nil {
		return time.Time{}, err
	}
	if r.AllDay {
		return p.EndOfDay(r.Time), nil
	}
	return r.Time, nil
}

func (p *Parser) day(text string, base time.Time) (time.Time, error) {
	switch text {
	case "today":
		return p.startOfDay(base), nil
	case "tomorrow":
		return p.startOfDay(base.AddDate(0, 0, 1)), nil
	case "yesterday":
		return p.startOfDay(base.AddDate(0, 0, -1)), nil
	}
	if strings.HasPrefix(text, "in ") {
		return p.parseInDuration(text, base)
	}
	if strings.HasPrefix(text, "next ") {
		return p.parseNextWeekday(text, base)
	}
	if t, err := time.ParseInLocation("2006-01-02", text, p.location); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognised, text)
}

func (p *Parser) parseInDuration(text string, base time.Time) (time.Time, error) {
	m := inPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognised, text)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognised, text)
	}
	switch {
	case strings.HasPrefix(m[2], "day"):
		return p.startOfDay(base.AddDate(0, 0, amount)), nil
	case strings.HasPrefix(m[2], "week"):
		return p.startOfDay(base.AddDate(0, 0, amount*7)), nil
	default:
		return p.startOfDay(base.AddDate(0, amount, 0)), nil
	}
}

// parseNextWeekday never returns base's own day: "next monday" on a Monday
// is a week later.
func (p *Parser) parseNextWeekday(text string, base time.Time) (time.Time, error) {
	name := strings.TrimPrefix(text, "next ")
	target, ok := weekdays[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown weekday %q", ErrUnrecognised, name)
	}
	days := int(target - base.In(p.location).Weekday())
	if days <= 0 {
		days += 7
	}
	return p.startOfDay(base.AddDate(0, 0, days)), nil
}

func parseClock(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h > 23 || m > 59 {
		return 0, 0, fmt.Errorf("%w: time %q", ErrUnrecognised, s)
	}
	return h, m, nil
}

func (p *Parser) startOfDay(t time.Time) time.Time {
	t = t.In(p.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.location)
}

// EndOfDay returns 23:59:59 on the day of startOfDay.
func (p *Parser) EndOfDay(startOfDay time.Time) time.Time {
	return startOfDay.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
}
