package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"hundred_prisoners/internal/aggregate"
	"hundred_prisoners/internal/engine"
	"hundred_prisoners/internal/logging"
	sqlitestore "hundred_prisoners/internal/store/sqlite"
)

func TestTracingTrialsPersistsFirstTraces(t *testing.T) {
	e, err := engine.New(10, engine.WithSeed(5))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	logger := logging.New(io.Discard, slog.LevelDebug)
	trials := &tracingTrials{engine: e, limit: 3, logger: logger}

	stats, err := aggregate.New(trials).RunMany(context.Background(), 20)
	if err != nil {
		t.Fatalf("run many: %v", err)
	}
	if len(trials.traces) != 3 {
		t.Fatalf("expected 3 traces, got %d", len(trials.traces))
	}
	for i, trace := range trials.traces {
		if len(trace) == 0 {
			t.Fatalf("trace %d is empty", i)
		}
		if trace[0].AgentNumber != 1 || trace[0].ContainerLabel != 1 {
			t.Fatalf("trace %d does not start at agent 1 box 1: %+v", i, trace[0])
		}
	}

	dbPath := filepath.Join(t.TempDir(), "nested", "runs.db")
	if err := persist(context.Background(), logger, dbPath, stats, 5, trials.traces); err != nil {
		t.Fatalf("persist: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Attempts != 20 || runs[0].Successes != stats.Successes || runs[0].Seed != 5 {
		t.Fatalf("unexpected stored runs %+v", runs)
	}
	steps, err := store.ListSteps(context.Background(), runs[0].ID, 2)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != len(trials.traces[2]) {
		t.Fatalf("expected %d steps for trial 2, got %d", len(trials.traces[2]), len(steps))
	}
}

func TestRunRejectsExplicitZeroCounts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := []struct {
		name string
		args []string
		want int
	}{
		{name: "zero prisoners", args: []string{"-p", "0", "-no-store"}, want: 2},
		{name: "zero attempts", args: []string{"-a", "0", "-no-store"}, want: 2},
		{name: "odd prisoners", args: []string{"-p", "3", "-a", "1", "-no-store"}, want: 2},
		{name: "unknown flag", args: []string{"-bogus"}, want: 2},
		{name: "small run", args: []string{"-p", "4", "-a", "5", "-seed", "1", "-no-store"}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := run(tc.args); got != tc.want {
				t.Fatalf("run(%v) = %d, want %d", tc.args, got, tc.want)
			}
		})
	}
}

func TestFlagOrKeepsExplicitZero(t *testing.T) {
	fs := flag.NewFlagSet("prisoners", flag.ContinueOnError)
	p := fs.Int("p", 0, "")
	a := fs.Int("a", 0, "")
	if err := fs.Parse([]string{"-p", "0"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	set := setFlags(fs)
	if got := flagOr(set, "p", *p, 100); got != 0 {
		t.Fatalf("expected explicit -p 0 to be kept, got %d", got)
	}
	if got := flagOr(set, "a", *a, 1000); got != 1000 {
		t.Fatalf("expected default attempts, got %d", got)
	}
}
