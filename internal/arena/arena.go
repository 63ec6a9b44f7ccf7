package arena

import (
	"fmt"
	"math/rand/v2"

	"hundred_prisoners/internal/domain"
)

// Arena owns the containers of one experiment and the permutation hidden
// inside them. Container i lives at index i-1.
type Arena struct {
	containers []domain.Container
	perm       []int
	rng        *rand.Rand
}

func Validate(n int) error {
	if n < 2 {
		return fmt.Errorf("%w: number of agents must be at least 2 (got: %d)", domain.ErrInvalidConfiguration, n)
	}
	if n%2 != 0 {
		return fmt.Errorf("%w: number of agents must be even (got: %d)", domain.ErrInvalidConfiguration, n)
	}
	return nil
}

func New(n int, rng *rand.Rand) (*Arena, error) {
	if err := Validate(n); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a := &Arena{
		containers: make([]domain.Container, n),
		perm:       make([]int, n),
		rng:        rng,
	}
	for i := range a.containers {
		a.containers[i] = domain.Container{Label: i + 1, HiddenNumber: domain.Unassigned}
	}
	return a, nil
}

func (a *Arena) Len() int {
	return len(a.containers)
}

// Budget is the number of containers each agent may inspect.
func (a *Arena) Budget() int {
	return len(a.containers) / 2
}

// Shuffle hides a fresh uniformly random permutation of 1..N in the
// containers using a Fisher-Yates shuffle.
func (a *Arena) Shuffle() {
	for i := range a.perm {
		a.perm[i] = i + 1
	}
	a.rng.Shuffle(len(a.perm), func(i, j int) {
		a.perm[i], a.perm[j] = a.perm[j], a.perm[i]
	})
	a.fill()
}

// Assign hides a caller-supplied permutation. perm[i] goes into container i+1.
func (a *Arena) Assign(perm []int) error {
	if len(perm) != len(a.containers) {
		return fmt.Errorf("%w: permutation has %d entries, want %d", domain.ErrInvalidConfiguration, len(perm), len(a.containers))
	}
	seen := make([]bool, len(perm)+1)
	for i, v := range perm {
		if v < 1 || v > len(perm) {
			return fmt.Errorf("%w: entry %d holds %d, outside [1, %d]", domain.ErrInvalidConfiguration, i, v, len(perm))
		}
		if seen[v] {
			return fmt.Errorf("%w: number %d appears more than once", domain.ErrInvalidConfiguration, v)
		}
		seen[v] = true
	}
	copy(a.perm, perm)
	a.fill()
	return nil
}

func (a *Arena) fill() {
	for i, v := range a.perm {
		a.containers[i].HiddenNumber = v
	}
}

func (a *Arena) ContainerByLabel(label int) (domain.Container, error) {
	if label < 1 || label > len(a.containers) {
		return domain.Container{}, fmt.Errorf("%w: container %d outside [1, %d]", domain.ErrNotFound, label, len(a.containers))
	}
	return a.containers[label-1], nil
}

// Containers returns a copy of every container ordered by label.
func (a *Arena) Containers() []domain.Container {
	out := make([]domain.Container, len(a.containers))
	copy(out, a.containers)
	return out
}

// Permutation returns a copy of the hidden numbers ordered by label.
func (a *Arena) Permutation() []int {
	out := make([]int, len(a.perm))
	copy(out, a.perm)
	return out
}
