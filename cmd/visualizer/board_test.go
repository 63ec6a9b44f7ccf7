package main

import (
	"strings"
	"testing"

	"hundred_prisoners/internal/domain"
	"hundred_prisoners/internal/engine"
)

func TestBoardFollowsTrial(t *testing.T) {
	e, err := engine.New(4)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	b := newBoard(4)
	b.newTrial()
	obs := engine.ObserverFunc(func(agent, label, hidden int) error {
		b.step(agent, label, hidden)
		return nil
	})
	// One 4-cycle: agent 1 opens boxes 1 and 2, then runs out of budget.
	if _, err := e.RunPermutation([]int{2, 3, 4, 1}, obs); err != nil {
		t.Fatalf("run: %v", err)
	}
	if b.agent != 1 || len(b.path) != 2 {
		t.Fatalf("expected agent 1 with two opened boxes, got agent %d path %v", b.agent, b.path)
	}
	if text, color := b.cell(3); color != "gray" || !strings.Contains(text, "??") {
		t.Fatalf("unopened box rendered as %q %s", text, color)
	}
	if _, color := b.cell(1); color != "yellow" {
		t.Fatalf("expected opened box on path to be yellow, got %s", color)
	}

	b.finish(e.Outcome())
	if b.trials != 1 || b.escapes != 0 || b.rate() != 0 {
		t.Fatalf("unexpected tallies trials=%d escapes=%d", b.trials, b.escapes)
	}
	if !strings.Contains(b.statsText(), "caught") {
		t.Fatalf("expected stats to report the failed trial:\n%s", b.statsText())
	}
}

func TestBoardCountsFreedAndEscapes(t *testing.T) {
	b := newBoard(2)
	b.newTrial()
	b.step(1, 1, 1)
	if _, color := b.cell(1); color != "green" {
		t.Fatalf("expected found box to be green, got %s", color)
	}
	b.step(2, 2, 2)
	if b.freed != 1 {
		t.Fatalf("expected agent 1 to be counted as freed, got %d", b.freed)
	}
	b.finish(domain.Outcome{TotalAgents: 2, Freed: 2, AllEscaped: true, Inspections: 2})
	if b.escapes != 1 || b.rate() != 1 {
		t.Fatalf("expected one escape, got %d", b.escapes)
	}

	b.reset()
	if b.trials != 0 || b.last != nil || len(b.revealed) != 0 {
		t.Fatalf("reset left state behind")
	}
}
