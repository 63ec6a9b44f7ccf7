package main

import (
	"fmt"
	"strings"

	"hundred_prisoners/internal/aggregate"
	"hundred_prisoners/internal/domain"
)

// board is the visual state of the experiment. It is only touched from the
// UI goroutine.
type board struct {
	n        int
	revealed map[int]int
	path     []int
	agent    int
	freed    int
	trials   int
	escapes  int
	last     *domain.Outcome
	expected float64
}

func newBoard(n int) *board {
	return &board{
		n:        n,
		revealed: make(map[int]int, n),
		expected: aggregate.TheoreticalSuccessRate(n),
	}
}

func (b *board) newTrial() {
	clear(b.revealed)
	b.path = b.path[:0]
	b.agent = 0
	b.freed = 0
}

func (b *board) step(agent, label, hidden int) {
	if agent != b.agent {
		if b.agent != 0 {
			b.freed++
		}
		b.agent = agent
		b.path = b.path[:0]
	}
	b.revealed[label] = hidden
	b.path = append(b.path, label)
}

func (b *board) finish(out domain.Outcome) {
	b.trials++
	if out.AllEscaped {
		b.escapes++
	}
	b.freed = out.Freed
	b.last = &out
}

func (b *board) reset() {
	b.newTrial()
	b.trials = 0
	b.escapes = 0
	b.last = nil
}

func (b *board) rate() float64 {
	if b.trials == 0 {
		return 0
	}
	return float64(b.escapes) / float64(b.trials)
}

func (b *board) onPath(label int) bool {
	for _, l := range b.path {
		if l == label {
			return true
		}
	}
	return false
}

// cell returns the text and color tag of one container.
func (b *board) cell(label int) (string, string) {
	hidden, open := b.revealed[label]
	switch {
	case !open:
		return fmt.Sprintf("%3d ??", label), "gray"
	case b.onPath(label) && hidden == b.agent:
		return fmt.Sprintf("%3d:%2d", label, hidden), "green"
	case b.onPath(label):
		return fmt.Sprintf("%3d:%2d", label, hidden), "yellow"
	default:
		return fmt.Sprintf("%3d:%2d", label, hidden), "white"
	}
}

func (b *board) statsText() string {
	var s strings.Builder
	fmt.Fprintf(&s, "Prisoners:   %d (budget %d)\n", b.n, b.n/2)
	fmt.Fprintf(&s, "Trials:      %d\n", b.trials)
	fmt.Fprintf(&s, "Escapes:     %d\n", b.escapes)
	fmt.Fprintf(&s, "Rate:        %.2f%%\n", b.rate()*100)
	fmt.Fprintf(&s, "Expected:    %.2f%%\n", b.expected*100)
	s.WriteString("\n")
	if b.agent != 0 {
		fmt.Fprintf(&s, "Prisoner:    %d\n", b.agent)
		fmt.Fprintf(&s, "Opened:      %d/%d\n", len(b.path), b.n/2)
		fmt.Fprintf(&s, "Freed:       %d\n", b.freed)
	}
	if b.last != nil {
		verdict := "[red]caught[-]"
		if b.last.AllEscaped {
			verdict = "[green]all escaped[-]"
		}
		fmt.Fprintf(&s, "\nLast trial:  %s (%d freed, %d boxes opened)\n", verdict, b.last.Freed, b.last.Inspections)
	}
	return s.String()
}
