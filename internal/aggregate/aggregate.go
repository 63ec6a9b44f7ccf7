package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hundred_prisoners/internal/domain"
	"hundred_prisoners/internal/engine"
)

// Trials is the part of the engine the aggregator drives.
type Trials interface {
	NumberOfAgents() int
	Run() bool
	Outcome() domain.Outcome
}

type ProgressFunc func(done, successes int)

type Aggregator struct {
	trials   Trials
	logger   *slog.Logger
	progress ProgressFunc
	every    int
}

type Option func(*Aggregator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithProgress calls fn after every `every` trials and once at the end.
func WithProgress(every int, fn ProgressFunc) Option {
	return func(a *Aggregator) {
		a.every = every
		a.progress = fn
	}
}

func New(trials Trials, opts ...Option) *Aggregator {
	a := &Aggregator{trials: trials}
	for _, opt := range opts {
		opt(a)
	}
	if a.every <= 0 {
		a.every = 1
	}
	return a
}

// NewWithEngine builds an engine for numberOfAgents and wraps it.
func NewWithEngine(numberOfAgents int, seed uint64, opts ...Option) (*Aggregator, error) {
	var engineOpts []engine.Option
	if seed != 0 {
		engineOpts = append(engineOpts, engine.WithSeed(seed))
	}
	e, err := engine.New(numberOfAgents, engineOpts...)
	if err != nil {
		return nil, err
	}
	return New(e, opts...), nil
}

// RunMany runs attempts independent trials. ctx is checked between trials;
// on cancellation the partial tally is returned together with ctx.Err().
func (a *Aggregator) RunMany(ctx context.Context, attempts int) (domain.Stats, error) {
	if attempts < 1 {
		return domain.Stats{}, fmt.Errorf("%w: attempts must be at least 1 (got: %d)", domain.ErrInvalidConfiguration, attempts)
	}
	n := a.trials.NumberOfAgents()
	start := time.Now()
	successes := 0
	done := 0
	for done < attempts {
		if err := ctx.Err(); err != nil {
			return a.stats(n, done, successes, start), err
		}
		if a.trials.Run() {
			successes++
		}
		done++
		if a.logger != nil {
			out := a.trials.Outcome()
			a.logger.Debug("trial finished", "trial", done, "escaped", out.AllEscaped, "freed", out.Freed, "inspections", out.Inspections)
		}
		if a.progress != nil && (done%a.every == 0 || done == attempts) {
			a.progress(done, successes)
		}
	}
	return a.stats(n, done, successes, start), nil
}

func (a *Aggregator) stats(n, attempts, successes int, start time.Time) domain.Stats {
	s := domain.Stats{
		Agents:      n,
		Attempts:    attempts,
		Successes:   successes,
		Theoretical: TheoreticalSuccessRate(n),
		Elapsed:     time.Since(start),
	}
	if attempts > 0 {
		s.SuccessRate = float64(successes) / float64(attempts)
	}
	return s
}

// TheoreticalSuccessRate is the exact escape probability of the
// chain-following strategy for n agents: 1 - sum_{k=n/2+1}^{n} 1/k.
func TheoreticalSuccessRate(n int) float64 {
	if n < 2 || n%2 != 0 {
		return 0
	}
	sum := 0.0
	for k := n/2 + 1; k <= n; k++ {
		sum += 1 / float64(k)
	}
	return 1 - sum
}
