package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"twodo/internal/app"
	"twodo/internal/ui"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "twodo",
		Short:         "twodo - a personal task tracker with deadline reminders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $TWODO_CONFIG or the user config dir)")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(markCmd("done", "Mark a task as completed", false))
	rootCmd.AddCommand(markCmd("undone", "Mark a completed task as incomplete", true))
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(optionsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Open the interactive task list",
		Args:  cobra.NoArgs,
		RunE:  runTUI,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openApp loads config and storage for one-shot commands.
func openApp() (*app.App, error) {
	return app.Open(app.Options{ConfigPath: configPath})
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := app.Open(app.Options{ConfigPath: configPath, Schedule: true, Interactive: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return ui.Run(a)
}
