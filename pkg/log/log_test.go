package log

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToOutputPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "twodo.log")
	l := Init(ZapConfig{Level: "debug", Encoding: EncodingJSON, OutputPath: path})

	l.Infof(context.Background(), "armed wake-up for %d task(s)", 2)
	if zl, ok := l.(*zapLogger); ok {
		_ = zl.sugar.Sync()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "armed wake-up for 2 task(s)") {
		t.Errorf("expected message in log file, got %q", string(data))
	}
}

func TestInitLevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twodo.log")
	l := Init(ZapConfig{Level: "warn", Encoding: EncodingConsole, OutputPath: path})

	l.Debugf(context.Background(), "hidden %d", 1)
	l.Warnf(context.Background(), "visible %d", 2)
	if zl, ok := l.(*zapLogger); ok {
		_ = zl.sugar.Sync()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug line should be filtered at warn level")
	}
	if !strings.Contains(string(data), "visible") {
		t.Errorf("warn line missing: %q", string(data))
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Errorf(context.Background(), "ignored %s", "entirely")
}

func TestLevelsReachOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twodo.log")
	var l Logger = Init(ZapConfig{Level: "debug", Encoding: EncodingConsole, OutputPath: path})
	ctx := context.Background()

	l.Debugf(ctx, "resync %s", "debug")
	l.Infof(ctx, "resync %s", "info")
	l.Warnf(ctx, "resync %s", "warn")
	l.Errorf(ctx, "resync %s", "error")
	if zl, ok := l.(*zapLogger); ok {
		_ = zl.sugar.Sync()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{"resync debug", "resync info", "resync warn", "resync error"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("missing %q in %q", want, string(data))
		}
	}
}
