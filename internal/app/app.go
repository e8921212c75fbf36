// Package app assembles the store, scheduler and adapters from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"twodo/internal/alarm"
	"twodo/internal/automark"
	"twodo/internal/bus"
	"twodo/internal/config"
	"twodo/internal/datemath"
	"twodo/internal/notify"
	"twodo/internal/query"
	"twodo/internal/storage"
	"twodo/internal/store"
	"twodo/internal/task"
	pkgLog "twodo/pkg/log"
)

const logFileName = "twodo.log"

// RefreshInterval is how often long-running commands look for writes made
// by other twodo processes.
const RefreshInterval = 2 * time.Second

type Options struct {
	// ConfigPath overrides config.ResolveConfigPath.
	ConfigPath string
	// Schedule starts the reminder scheduler and, when configured, automark.
	Schedule bool
	// Interactive sends logs to a file next to the config unless one is set.
	Interactive bool
	// Reminders, when set, receives styled reminder lines.
	Reminders io.Writer
	Clock     alarm.Clock
	Logger    pkgLog.Logger
}

type App struct {
	Config      config.Config
	Logger      pkgLog.Logger
	FirstLaunch bool

	DB        *storage.Store
	Sync      *storage.Syncer
	Changes   *bus.Bus[store.Changed]
	Store     *store.Store
	Query     *query.Engine
	Dates     *datemath.Parser
	Scheduler *alarm.Scheduler
	Automark  *automark.AutoMarker

	hook *notify.Hook
	subs []bus.Subscription
}

func Open(opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	firstLaunch := false
	if _, err := os.Stat(path); err != nil {
		firstLaunch = errors.Is(err, os.ErrNotExist)
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	l := opts.Logger
	if l == nil {
		l = newLogger(cfg, opts.Interactive)
	}
	ctx := context.Background()

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	snap, err := db.Snapshot()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	tasks := snap.Tasks
	seeded := false
	if firstLaunch && len(tasks) == 0 {
		tasks = task.SampleTasks(time.Now())
		seeded = true
	}

	changes := bus.New[store.Changed](l)
	st, err := store.New(l, changes, tasks)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	sy := storage.Persist(l, db, st, snap, changes)
	if seeded {
		if err := sy.Sync(); err != nil {
			l.Errorf(ctx, "app: save sample tasks: %v", err)
		}
		l.Infof(ctx, "app: first launch, seeded %d sample task(s)", st.Len())
	}

	a := &App{
		Config:      cfg,
		Logger:      l,
		FirstLaunch: firstLaunch,
		DB:          db,
		Sync:        sy,
		Changes:     changes,
		Store:       st,
		Query:       query.New(st),
		Dates:       datemath.NewParser(time.Local),
	}

	a.Scheduler = alarm.New(l, opts.Clock, alarm.WithLead(cfg.Lead()))
	sinks := []notify.Sink{notify.NewLogger(l)}
	if opts.Reminders != nil {
		sinks = append(sinks, notify.NewPrinter(opts.Reminders))
	}
	if cfg.Hook.Command != "" {
		a.hook = notify.NewHook(l, cfg.Hook.Command, cfg.Hook.PerMinute, nil)
		sinks = append(sinks, a.hook)
	}
	a.subs = append(a.subs, notify.Attach(l, a.Scheduler.Reminders(), sinks...)...)

	if opts.Schedule {
		a.Scheduler.Watch(st, changes)
		if cfg.Automark {
			a.Automark = automark.New(l, opts.Clock, st)
			a.Automark.Watch(st, changes)
		}
	}
	return a, nil
}

// Close stops scheduling, waits for running hooks and closes the database.
func (a *App) Close() error {
	a.Scheduler.Stop()
	if a.Automark != nil {
		a.Automark.Stop()
	}
	if a.hook != nil {
		a.hook.Wait()
	}
	for _, s := range a.subs {
		s.Unsubscribe()
	}
	a.Sync.Stop()
	return a.DB.Close()
}

// Follow reloads the store whenever another process writes to the shared
// database, until ctx is done. Scheduler and UI see the reload as an
// ordinary change event.
func (a *App) Follow(ctx context.Context) {
	a.Sync.Follow(ctx, RefreshInterval)
}

// SaveOptions persists a new lead interval and automark flag. The lead
// applies from the next resync; automark takes effect on the next start.
func (a *App) SaveOptions(lead time.Duration, automarkOn bool) error {
	a.Config.Alarm = config.FormatAlarm(lead)
	a.Config.Automark = automarkOn
	if err := config.Save(a.Config.Path(), a.Config); err != nil {
		return err
	}
	a.Scheduler.SetLead(lead)
	return nil
}

func newLogger(cfg config.Config, interactive bool) pkgLog.Logger {
	out := cfg.Log.File
	if out == "" && interactive {
		out = filepath.Join(filepath.Dir(cfg.Path()), logFileName)
	}
	return pkgLog.Init(pkgLog.ZapConfig{
		Level:        cfg.Log.Level,
		Mode:         cfg.Log.Mode,
		Encoding:     cfg.Log.Encoding,
		ColorEnabled: out == "",
		OutputPath:   out,
	})
}
