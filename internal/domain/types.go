package domain

import (
	"errors"
	"time"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrNotFound             = errors.New("not found")
)

// Unassigned is the hidden number of a container before its first shuffle.
const Unassigned = -1

type Container struct {
	Label        int `json:"label"`
	HiddenNumber int `json:"hidden_number"`
}

type Agent struct {
	Number int `json:"number"`
}

// Step is one inspection: an agent opening a container.
type Step struct {
	AgentNumber    int `json:"prisonerNumber"`
	ContainerLabel int `json:"boxNumber"`
	HiddenNumber   int `json:"hiddenNumber"`
}

// Outcome describes a single trial. Freed only counts agents attempted
// before the first failure.
type Outcome struct {
	TotalAgents int  `json:"total_agents"`
	Freed       int  `json:"freed"`
	AllEscaped  bool `json:"all_escaped"`
	Inspections int  `json:"inspections"`
	FailedAgent int  `json:"failed_agent,omitempty"`
}

func (o Outcome) FreedPercent() float64 {
	if o.TotalAgents <= 0 {
		return 0
	}
	return float64(o.Freed) / float64(o.TotalAgents) * 100
}

type Stats struct {
	Agents      int           `json:"agents"`
	Attempts    int           `json:"attempts"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	Theoretical float64       `json:"theoretical"`
	Elapsed     time.Duration `json:"elapsed"`
}

func (s Stats) Percent() float64 {
	return s.SuccessRate * 100
}

type RunSource string

const (
	RunSourceCLI        RunSource = "cli"
	RunSourceRelay      RunSource = "relay"
	RunSourceVisualizer RunSource = "visualizer"
)

type Run struct {
	ID          string    `json:"id"`
	Agents      int       `json:"agents"`
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	SuccessRate float64   `json:"success_rate"`
	Seed        int64     `json:"seed"`
	Source      RunSource `json:"source"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

type RunStep struct {
	ID    int64  `json:"id"`
	RunID string `json:"run_id"`
	Trial int    `json:"trial"`
	Seq   int    `json:"seq"`
	Step  Step   `json:"step"`
}

// SessionEvent is one NDJSON line or WebSocket frame pushed to relay
// subscribers.
type SessionEvent struct {
	Kind    string   `json:"kind"`
	Session string   `json:"session"`
	Step    *Step    `json:"step,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

const (
	EventKindSession = "session"
	EventKindStep    = "step"
	EventKindResult  = "result"
	EventKindStopped = "stopped"
	EventKindError   = "error"
)
