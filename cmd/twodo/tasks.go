package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"twodo/internal/app"
	"twodo/internal/config"
	"twodo/internal/datemath"
	"twodo/internal/query"
	"twodo/internal/task"
)

var errEndRequired = errors.New("a start date needs an end date")

// deadlineFlags are shared by add and edit.
type deadlineFlags struct {
	start string
	end   string
	alarm string
}

func (f *deadlineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "start date, e.g. \"today 09:00\"")
	cmd.Flags().StringVar(&f.end, "end", "", "end date, e.g. \"next friday\"")
	cmd.Flags().StringVar(&f.alarm, "alarm", "", "per-task reminder lead, e.g. \"30 minutes\"")
}

func (f deadlineFlags) set() bool {
	return f.start != "" || f.end != "" || f.alarm != ""
}

// deadline builds a deadline from the flags. An end alone is a point
// deadline.
func (f deadlineFlags) deadline(dates *datemath.Parser, now time.Time) (*task.Deadline, error) {
	if f.end == "" {
		if f.start != "" || f.alarm != "" {
			return nil, errEndRequired
		}
		return nil, nil
	}
	end, err := dates.Deadline(f.end, now)
	if err != nil {
		return nil, fmt.Errorf("end date: %w", err)
	}
	start := end
	if f.start != "" {
		r, err := dates.Parse(f.start, now)
		if err != nil {
			return nil, fmt.Errorf("start date: %w", err)
		}
		start = r.Time
	}
	var lead time.Duration
	if f.alarm != "" {
		if lead, err = config.ParseAlarm(f.alarm); err != nil {
			return nil, err
		}
	}
	return task.NewDeadline(start, end, lead)
}

func addCmd() *cobra.Command {
	var (
		desc  string
		tags  []string
		dates deadlineFlags
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t := task.Task{
				Name:        strings.Join(args, " "),
				Description: desc,
				Tags:        task.NewTags(tags...),
			}
			if t.Deadline, err = dates.deadline(a.Dates, time.Now()); err != nil {
				return err
			}
			if err := a.Store.Add(t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", t)
			return nil
		},
	}
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "description")
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "comma separated tags")
	dates.register(cmd)
	return cmd
}

// viewFlags select the list the numeric task references point into.
type viewFlags struct {
	complete bool
	floating bool
	tags     []string
}

func (f *viewFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.complete, "complete", false, "completed tasks instead of incomplete ones")
	cmd.Flags().BoolVar(&f.floating, "floating", false, "only tasks without a deadline")
	cmd.Flags().StringSliceVarP(&f.tags, "tags", "t", nil, "only tasks with a matching tag")
}

func (f viewFlags) spec() query.ShowAll {
	return query.ShowAll{Tags: f.tags, OnlyFloating: f.floating, WantIncomplete: !f.complete}
}

// pick resolves a 1-based position in the list that `twodo list` with the
// same flags would print.
func pick(a *app.App, view viewFlags, arg string) (task.Task, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return task.Task{}, fmt.Errorf("invalid task number %q", arg)
	}
	tasks, err := a.Query.Query(view.spec())
	if err != nil {
		return task.Task{}, err
	}
	if n > len(tasks) {
		return task.Task{}, fmt.Errorf("no task %d, the list has %d", n, len(tasks))
	}
	return tasks[n-1], nil
}

func listCmd() *cobra.Command {
	var (
		view     viewFlags
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			spec, err := listSpec(a.Dates, time.Now(), view, from, to)
			if err != nil {
				return err
			}
			tasks, err := a.Query.Query(spec)
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	view.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "deadline tasks starting after this date")
	cmd.Flags().StringVar(&to, "to", "", "deadline tasks starting before this date")
	return cmd
}

// listSpec picks a period query when --from or --to is given and a plain
// listing otherwise.
func listSpec(dates *datemath.Parser, now time.Time, view viewFlags, from, to string) (query.Spec, error) {
	if from == "" && to == "" {
		return view.spec(), nil
	}
	if view.floating {
		return nil, errors.New("--floating cannot be combined with --from or --to")
	}
	q := query.Period{WantIncomplete: !view.complete, Tags: view.tags}
	if from != "" {
		r, err := dates.Parse(from, now)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		q.Window.Start = r.Time
		q.Bound = query.BoundStart
	}
	if to != "" {
		end, err := dates.Deadline(to, now)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		q.Window.End = end
		q.Bound = query.BoundEnd
	}
	if from != "" && to != "" {
		q.Bound = query.BoundBoth
	}
	return q, nil
}

func findCmd() *cobra.Command {
	var complete bool
	cmd := &cobra.Command{
		Use:   "find <keyword>...",
		Short: "Find tasks containing any of the keywords",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.Query.Query(query.Keyword{Keywords: args, WantIncomplete: !complete})
			if err != nil {
				return err
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&complete, "complete", false, "search completed tasks")
	return cmd
}

func markCmd(use, short string, fromComplete bool) *cobra.Command {
	var view viewFlags
	cmd := &cobra.Command{
		Use:   use + " <number>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			view.complete = fromComplete
			t, err := pick(a, view, args[0])
			if err != nil {
				return err
			}
			if fromComplete {
				err = a.Store.Unmark(t)
			} else {
				err = a.Store.Mark(t)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", strings.ToUpper(use[:1])+use[1:], t.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&view.floating, "floating", false, "number refers to the floating list")
	cmd.Flags().StringSliceVarP(&view.tags, "tags", "t", nil, "number refers to the list filtered by tag")
	return cmd
}

func deleteCmd() *cobra.Command {
	var view viewFlags
	cmd := &cobra.Command{
		Use:   "delete <number>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := pick(a, view, args[0])
			if err != nil {
				return err
			}
			if err := a.Store.Delete(t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", t.Name)
			return nil
		},
	}
	view.register(cmd)
	return cmd
}

func editCmd() *cobra.Command {
	var (
		view     viewFlags
		dates    deadlineFlags
		name     string
		desc     string
		tags     []string
		floating bool
	)
	cmd := &cobra.Command{
		Use:   "edit <number>",
		Short: "Edit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			target, err := pick(a, view, args[0])
			if err != nil {
				return err
			}
			edited := target
			flags := cmd.Flags()
			if flags.Changed("name") {
				edited.Name = name
			}
			if flags.Changed("desc") {
				edited.Description = desc
			}
			if flags.Changed("set-tags") {
				edited.Tags = task.NewTags(tags...)
			}
			switch {
			case floating && dates.set():
				return errors.New("--clear-deadline cannot be combined with date flags")
			case floating:
				edited.Deadline = nil
			case dates.set():
				if edited.Deadline, err = dates.deadline(a.Dates, time.Now()); err != nil {
					return err
				}
			}
			if err := a.Store.Update(target, edited); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Edited: %s\n", edited)
			return nil
		},
	}
	view.register(cmd)
	dates.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "new description")
	cmd.Flags().StringSliceVar(&tags, "set-tags", nil, "replace tags")
	cmd.Flags().BoolVar(&floating, "clear-deadline", false, "remove the deadline")
	return cmd
}

func printTasks(w io.Writer, tasks []task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}
	for i, t := range tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(w, "%3d. [%s] %s\n", i+1, mark, t)
		if t.Description != "" {
			fmt.Fprintf(w, "       %s\n", t.Description)
		}
	}
}
