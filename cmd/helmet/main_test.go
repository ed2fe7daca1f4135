package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunDryRunStopsAtCycleLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
env: test
device:
  id: helmet_test
runtime:
  adapter: idle
  tick_interval: 5ms
storage:
  path: `+filepath.Join(dir, "events.db")+`
health:
  address: 127.0.0.1:0
log:
  level: error
`)

	err := run(context.Background(), options{configPath: path, dryRun: true, maxCycles: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunUnknownAdapter(t *testing.T) {
	path := writeConfig(t, `
runtime:
  adapter: can_bus
health:
  address: 127.0.0.1:0
log:
  level: error
`)

	if err := run(context.Background(), options{configPath: path, dryRun: true, maxCycles: 1}); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestRunMissingConfig(t *testing.T) {
	err := run(context.Background(), options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestRootCmdRejectsNegativeCycles(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--max-cycles=-1"})
	cmd.SetOut(new(discard))
	cmd.SetErr(new(discard))

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for negative --max-cycles")
	}
}

type discard struct{}

func (*discard) Write(p []byte) (int, error) { return len(p), nil }
