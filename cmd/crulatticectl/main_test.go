package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crulattice/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func TestRunCommandSQLiteCreatesArtifactsAndResumes(t *testing.T) {
	workdir := chdirTemp(t)
	ctx := context.Background()

	dbPath := filepath.Join(workdir, "crulattice.db")
	args := []string{
		"run",
		"--store", "sqlite",
		"--db-path", dbPath,
		"--cell", "single",
		"--duration", "2",
		"--trace-every", "10",
		"--seed", "11",
	}
	if err := run(ctx, args); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected sqlite db at %s: %v", dbPath, err)
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Steps != 40 || entries[0].Units != 1 {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	runID := entries[0].RunID
	for _, file := range []string{"config.json", "trace.csv", "fields.csv"} {
		path := filepath.Join("runs", runID, file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}

	for _, cmd := range [][]string{
		{"runs", "--limit", "5"},
		{"runs", "--json"},
		{"trace", "--store", "sqlite", "--db-path", dbPath, "--latest", "--limit", "2"},
		{"trace", "--store", "sqlite", "--db-path", dbPath, "--run-id", runID, "--json"},
	} {
		if err := run(ctx, cmd); err != nil {
			t.Fatalf("%s command: %v", cmd[0], err)
		}
	}

	resume := []string{"resume", "--store", "sqlite", "--db-path", dbPath, "--latest", "--duration", "1"}
	if err := run(ctx, resume); err != nil {
		t.Fatalf("resume command: %v", err)
	}
	entries, err = stats.ListRunIndex("runs")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 2 || entries[0].ParentID != runID || entries[0].Steps != 60 {
		t.Fatalf("unexpected run index after resume: %+v", entries)
	}
}

func TestRunCommandConfigAllowsFlagOverrides(t *testing.T) {
	chdirTemp(t)

	configPath := filepath.Join(t.TempDir(), "run.json")
	data, err := json.Marshal(map[string]any{
		"cell":        "single",
		"duration":    1,
		"seed":        5,
		"trace_every": 5,
		"membrane":    "hold",
		"hold_v":      -40,
	})
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	args := []string{"run", "--store", "memory", "--config", configPath, "--seed", "21"}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one run, got %d", len(entries))
	}
	cfg, ok, err := stats.ReadRunConfig("runs", entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.Seed != 21 || cfg.Cell != "single" || cfg.Membrane != "hold" || cfg.HoldV != -40 || cfg.TraceEvery != 5 {
		t.Fatalf("unexpected persisted config: %+v", cfg)
	}
	if cfg.Steps != 20 {
		t.Fatalf("expected 20 steps, got %d", cfg.Steps)
	}
}

func TestExportLatestCopiesArtifacts(t *testing.T) {
	chdirTemp(t)
	ctx := context.Background()

	if err := run(ctx, []string{"run", "--store", "memory", "--cell", "single", "--duration", "1"}); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if err := run(ctx, []string{"export", "--latest", "--out", "out"}); err != nil {
		t.Fatalf("export command: %v", err)
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil || len(entries) != 1 {
		t.Fatalf("list run index: %v (%d entries)", err, len(entries))
	}
	for _, file := range []string{"config.json", "trace.csv", "fields.csv"} {
		if _, err := os.Stat(filepath.Join("out", entries[0].RunID, file)); err != nil {
			t.Fatalf("expected exported %s: %v", file, err)
		}
	}

	if err := run(ctx, []string{"export", "--latest", "--run-id", entries[0].RunID}); err == nil {
		t.Fatal("expected error for run id combined with latest")
	}
}

func TestModelsCommand(t *testing.T) {
	for _, args := range [][]string{{"models"}, {"models", "--json"}} {
		if err := run(context.Background(), args); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command: bogus") || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "missing command") {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := run(context.Background(), []string{"runs", "--limit", "0"}); err == nil {
		t.Fatal("expected error for zero limit")
	}
}
