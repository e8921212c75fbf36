package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"twodo/internal/app"
	"twodo/internal/archive"
	"twodo/internal/config"
)

var errOptionsUnchanged = errors.New("options are the same as the current ones")

// resolveOptions applies the given changes to the current values. Setting
// both to what they already are is an error.
func resolveOptions(cur config.Config, alarmText string, alarmSet bool, automark, automarkSet bool) (time.Duration, bool, error) {
	lead := cur.Lead()
	auto := cur.Automark
	if alarmSet {
		d, err := config.ParseAlarm(alarmText)
		if err != nil {
			return 0, false, err
		}
		lead = d
	}
	if automarkSet {
		auto = automark
	}
	if lead == cur.Lead() && auto == cur.Automark {
		return 0, false, errOptionsUnchanged
	}
	return lead, auto, nil
}

func optionsCmd() *cobra.Command {
	var (
		alarmText string
		automark  bool
	)
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Show or change the reminder lead and automark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			alarmSet, automarkSet := cmd.Flags().Changed("alarm"), cmd.Flags().Changed("automark")
			if !alarmSet && !automarkSet {
				fmt.Fprintf(out, "alarm: %s\nautomark: %t\n", config.FormatAlarm(a.Config.Lead()), a.Config.Automark)
				return nil
			}
			lead, auto, err := resolveOptions(a.Config, alarmText, alarmSet, automark, automarkSet)
			if err != nil {
				return err
			}
			if err := a.SaveOptions(lead, auto); err != nil {
				return err
			}
			fmt.Fprintf(out, "Options saved: alarm %s, automark %t\n", config.FormatAlarm(lead), auto)
			return nil
		},
	}
	cmd.Flags().StringVar(&alarmText, "alarm", "", "default reminder lead, e.g. \"1 day\" or \"30 minutes\"")
	cmd.Flags().BoolVar(&automark, "automark", false, "mark tasks complete when their end date passes")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write all tasks as YAML to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				return archive.Export(cmd.OutOrStdout(), a.Store.Tasks())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := archive.Export(f, a.Store.Tasks()); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all tasks with the contents of a YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			tasks, err := archive.Import(f)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Store.Reset(tasks); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d task(s)\n", len(tasks))
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print reminders as deadlines approach until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(app.Options{
				ConfigPath: configPath,
				Schedule:   true,
				Reminders:  cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if at, ok := a.Scheduler.NextWake(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %d task(s), next reminder at %s\n",
					len(a.Scheduler.Pending()), at.Local().Format("2006-01-02 15:04"))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Watching, no reminders pending")
			}
			a.Follow(ctx)
			return nil
		},
	}
}
