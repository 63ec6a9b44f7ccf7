package aggregate

import (
	"context"
	"errors"
	"math"
	"testing"

	"hundred_prisoners/internal/domain"
)

type scriptedTrials struct {
	results []bool
	calls   int
}

func (s *scriptedTrials) NumberOfAgents() int { return 4 }

func (s *scriptedTrials) Run() bool {
	r := s.results[s.calls%len(s.results)]
	s.calls++
	return r
}

func (s *scriptedTrials) Outcome() domain.Outcome {
	return domain.Outcome{TotalAgents: 4}
}

func TestRunManyRejectsNonPositiveAttempts(t *testing.T) {
	a := New(&scriptedTrials{results: []bool{true}})
	for _, attempts := range []int{0, -1} {
		if _, err := a.RunMany(context.Background(), attempts); !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Fatalf("attempts=%d: expected ErrInvalidConfiguration, got %v", attempts, err)
		}
	}
}

func TestRunManyTalliesSuccesses(t *testing.T) {
	trials := &scriptedTrials{results: []bool{true, false, false, true}}
	var reports [][2]int
	a := New(trials, WithProgress(3, func(done, successes int) {
		reports = append(reports, [2]int{done, successes})
	}))
	stats, err := a.RunMany(context.Background(), 8)
	if err != nil {
		t.Fatalf("run many: %v", err)
	}
	if stats.Attempts != 8 || stats.Successes != 4 || stats.SuccessRate != 0.5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if trials.calls != 8 {
		t.Fatalf("expected 8 trials, got %d", trials.calls)
	}
	want := [][2]int{{3, 1}, {6, 3}, {8, 4}}
	if len(reports) != len(want) {
		t.Fatalf("expected progress %v, got %v", want, reports)
	}
	for i := range want {
		if reports[i] != want[i] {
			t.Fatalf("expected progress %v, got %v", want, reports)
		}
	}
}

func TestRunManyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	trials := &scriptedTrials{results: []bool{true}}
	a := New(trials, WithProgress(1, func(done, _ int) {
		if done == 5 {
			cancel()
		}
	}))
	stats, err := a.RunMany(ctx, 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Attempts != 5 || stats.Successes != 5 {
		t.Fatalf("expected partial tally of 5, got %+v", stats)
	}
}

func TestTheoreticalSuccessRate(t *testing.T) {
	if got := TheoreticalSuccessRate(2); got != 0.5 {
		t.Fatalf("expected 0.5 for two agents, got %f", got)
	}
	// 1 - (1/3 + 1/4) = 5/12
	if got := TheoreticalSuccessRate(4); math.Abs(got-5.0/12.0) > 1e-12 {
		t.Fatalf("expected 5/12 for four agents, got %f", got)
	}
	if got := TheoreticalSuccessRate(100); math.Abs(got-0.3118) > 0.0001 {
		t.Fatalf("unexpected rate for 100 agents: %f", got)
	}
	if got := TheoreticalSuccessRate(3); got != 0 {
		t.Fatalf("expected 0 for odd count, got %f", got)
	}
}

func TestRunManyConvergesForHundredAgents(t *testing.T) {
	if testing.Short() {
		t.Skip("statistical run")
	}
	a, err := NewWithEngine(100, 20240601)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	stats, err := a.RunMany(context.Background(), 20000)
	if err != nil {
		t.Fatalf("run many: %v", err)
	}
	const limit = 1 - math.Ln2
	if math.Abs(stats.SuccessRate-limit) > 0.05 {
		t.Fatalf("success rate %.4f too far from %.4f", stats.SuccessRate, limit)
	}
	if math.Abs(stats.SuccessRate-stats.Theoretical) > 0.02 {
		t.Fatalf("success rate %.4f too far from exact %.4f", stats.SuccessRate, stats.Theoretical)
	}
}
