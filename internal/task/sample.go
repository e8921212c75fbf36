package task

import "time"

// SampleTasks seeds an empty task list on first launch. Deadlines are placed
// relative to now so the scheduler has something to announce.
func SampleTasks(now time.Time) []Task {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	at := func(days, hour int) time.Time {
		return day.AddDate(0, 0, days).Add(time.Duration(hour) * time.Hour)
	}
	return []Task{
		{Name: "Weekly review", Description: "Go through inbox and calendar", Tags: NewTags("personal")},
		{
			Name:        "Project submission",
			Description: "Final submission of the release candidate",
			Deadline:    &Deadline{Start: at(3, 10), End: at(3, 10)},
			Tags:        NewTags("work"),
		},
		{
			Name:        "Dinner",
			Description: "Friday dinner with friends",
			Deadline:    &Deadline{Start: at(5, 19), End: at(5, 22)},
			Tags:        NewTags("friends"),
		},
		{
			Name:        "Shopping",
			Description: "New clothes",
			Deadline:    &Deadline{Start: at(30, 14), End: at(30, 14)},
			Tags:        NewTags("family", "friends"),
		},
		{Name: "Buy lotion", Tags: NewTags()},
	}
}
