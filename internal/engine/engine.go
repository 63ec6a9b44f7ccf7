package engine

import (
	"fmt"
	"math/rand/v2"

	"hundred_prisoners/internal/arena"
	"hundred_prisoners/internal/domain"
)

// StepObserver receives every inspection synchronously, in order, before the
// engine checks whether the inspected container holds the agent's number.
// A non-nil error aborts the trial and is returned from RunObserved.
type StepObserver interface {
	OnStep(agentNumber, containerLabel, hiddenNumber int) error
}

type ObserverFunc func(agentNumber, containerLabel, hiddenNumber int) error

func (f ObserverFunc) OnStep(agentNumber, containerLabel, hiddenNumber int) error {
	return f(agentNumber, containerLabel, hiddenNumber)
}

type Option func(*Engine)

func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		e.rng = rng
	}
}

func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

type Engine struct {
	n       int
	rng     *rand.Rand
	arena   *arena.Arena
	outcome domain.Outcome
}

func New(numberOfAgents int, opts ...Option) (*Engine, error) {
	e := &Engine{n: numberOfAgents}
	for _, opt := range opts {
		opt(e)
	}
	a, err := arena.New(numberOfAgents, e.rng)
	if err != nil {
		return nil, err
	}
	e.arena = a
	return e, nil
}

func (e *Engine) NumberOfAgents() int {
	return e.n
}

func (e *Engine) Budget() int {
	return e.arena.Budget()
}

// Run executes one independent trial without observation.
func (e *Engine) Run() bool {
	ok, err := e.RunObserved(nil)
	if err != nil {
		// Only a corrupted permutation gets here.
		panic(err)
	}
	return ok
}

// RunObserved reshuffles the containers and runs one trial, pushing every
// inspection to obs when it is non-nil.
func (e *Engine) RunObserved(obs StepObserver) (bool, error) {
	e.arena.Shuffle()
	return e.runTrial(obs)
}

// RunPermutation runs one trial against a fixed permutation instead of a
// shuffle. perm[i] is hidden in container i+1.
func (e *Engine) RunPermutation(perm []int, obs StepObserver) (bool, error) {
	if err := e.arena.Assign(perm); err != nil {
		return false, err
	}
	return e.runTrial(obs)
}

func (e *Engine) runTrial(obs StepObserver) (bool, error) {
	t := newTrial(e.n)
	e.outcome = domain.Outcome{TotalAgents: e.n}

	budget := e.arena.Budget()
	for _, agent := range t.agents {
		found, inspections, err := e.search(agent, budget, obs)
		t.inspections += inspections
		if err != nil {
			e.outcome = t.outcome(e.n)
			return false, err
		}
		if !found {
			t.failed = agent.Number
			e.outcome = t.outcome(e.n)
			return false, nil
		}
		t.freed++
	}
	e.outcome = t.outcome(e.n)
	return true, nil
}

// search follows the chain of hidden numbers starting at the agent's own
// container and gives up after budget inspections.
func (e *Engine) search(agent domain.Agent, budget int, obs StepObserver) (bool, int, error) {
	current, err := e.arena.ContainerByLabel(agent.Number)
	if err != nil {
		return false, 0, err
	}
	inspections := 0
	for searches := 0; searches < budget; searches++ {
		inspections++
		if obs != nil {
			if err := obs.OnStep(agent.Number, current.Label, current.HiddenNumber); err != nil {
				return false, inspections, fmt.Errorf("observer at agent %d container %d: %w", agent.Number, current.Label, err)
			}
		}
		if current.HiddenNumber == agent.Number {
			return true, inspections, nil
		}
		current, err = e.arena.ContainerByLabel(current.HiddenNumber)
		if err != nil {
			return false, inspections, err
		}
	}
	return false, inspections, nil
}

// Outcome reports the most recent trial.
func (e *Engine) Outcome() domain.Outcome {
	return e.outcome
}

func (e *Engine) ContainerByLabel(label int) (domain.Container, error) {
	return e.arena.ContainerByLabel(label)
}

func (e *Engine) Containers() []domain.Container {
	return e.arena.Containers()
}

func (e *Engine) Permutation() []int {
	return e.arena.Permutation()
}

type trial struct {
	agents      []domain.Agent
	freed       int
	failed      int
	inspections int
}

func newTrial(n int) trial {
	agents := make([]domain.Agent, n)
	for i := range agents {
		agents[i] = domain.Agent{Number: i + 1}
	}
	return trial{agents: agents}
}

func (t trial) outcome(n int) domain.Outcome {
	return domain.Outcome{
		TotalAgents: n,
		Freed:       t.freed,
		AllEscaped:  t.freed == n,
		Inspections: t.inspections,
		FailedAgent: t.failed,
	}
}
