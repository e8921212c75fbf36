package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"twodo/internal/alarm"
	"twodo/internal/archive"
	pkgLog "twodo/pkg/log"
)

const hookTimeout = 30 * time.Second

var ErrRateLimited = errors.New("hook rate limit exceeded")

// HookPayload is written to the hook command's stdin as YAML.
type HookPayload struct {
	ID    string           `yaml:"id"`
	At    time.Time        `yaml:"at"`
	Tasks []archive.Record `yaml:"tasks"`
}

// Runner executes command with stdin attached.
type Runner func(ctx context.Context, command string, stdin []byte) error

// ShellRunner runs command through sh -c.
func ShellRunner(ctx context.Context, command string, stdin []byte) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Hook pipes each batch into an external command. Batches over the
// per-minute budget are dropped.
type Hook struct {
	l       pkgLog.Logger
	command string
	limiter *rate.Limiter
	run     Runner
	wg      sync.WaitGroup
}

func NewHook(l pkgLog.Logger, command string, perMinute int, run Runner) *Hook {
	if l == nil {
		l = pkgLog.NewNop()
	}
	if perMinute <= 0 {
		perMinute = 6
	}
	if run == nil {
		run = ShellRunner
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Hook{
		l:       l,
		command: command,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		run:     run,
	}
}

func (h *Hook) Name() string { return "hook" }

// Deliver checks the budget and starts the command in the background.
func (h *Hook) Deliver(ctx context.Context, r alarm.Reminder) error {
	if !h.limiter.Allow() {
		h.l.Warnf(ctx, "notify: hook dropped reminder %s (%d task(s))", r.ID, len(r.Tasks))
		return ErrRateLimited
	}

	p := HookPayload{ID: r.ID, At: r.At}
	for _, t := range r.Tasks {
		p.Tasks = append(p.Tasks, archive.FromTask(t))
	}
	stdin, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode hook payload: %w", err)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := h.run(ctx, h.command, stdin); err != nil {
			h.l.Errorf(ctx, "notify: hook %q: %v", h.command, err)
		}
	}()
	return nil
}

// Wait blocks until every started command has returned.
func (h *Hook) Wait() {
	h.wg.Wait()
}
