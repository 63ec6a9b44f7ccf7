package arena

import (
	"errors"
	"math/rand/v2"
	"testing"

	"hundred_prisoners/internal/domain"
)

func TestNewRejectsInvalidCounts(t *testing.T) {
	for _, n := range []int{-2, -1, 0, 1, 3, 7, 99} {
		if _, err := New(n, nil); !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Fatalf("n=%d: expected ErrInvalidConfiguration, got %v", n, err)
		}
	}
	for _, n := range []int{2, 4, 100} {
		if _, err := New(n, nil); err != nil {
			t.Fatalf("n=%d: unexpected error %v", n, err)
		}
	}
}

func TestContainersUnassignedBeforeShuffle(t *testing.T) {
	a, err := New(6, nil)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	for i, c := range a.Containers() {
		if c.Label != i+1 {
			t.Fatalf("container %d has label %d", i, c.Label)
		}
		if c.HiddenNumber != domain.Unassigned {
			t.Fatalf("container %d already holds %d", c.Label, c.HiddenNumber)
		}
	}
}

func TestShuffleProducesBijection(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{2, 4, 10, 100} {
		a, err := New(n, rng)
		if err != nil {
			t.Fatalf("new arena: %v", err)
		}
		for round := 0; round < 20; round++ {
			a.Shuffle()
			seen := make(map[int]bool, n)
			for _, c := range a.Containers() {
				if c.HiddenNumber < 1 || c.HiddenNumber > n {
					t.Fatalf("n=%d: hidden number %d out of range", n, c.HiddenNumber)
				}
				if seen[c.HiddenNumber] {
					t.Fatalf("n=%d: hidden number %d repeated", n, c.HiddenNumber)
				}
				seen[c.HiddenNumber] = true
			}
			if len(seen) != n {
				t.Fatalf("n=%d: expected %d distinct numbers, got %d", n, n, len(seen))
			}
		}
	}
}

func TestShuffleIsRoughlyUniform(t *testing.T) {
	// 4! = 24 permutations, 24000 draws: each bucket should sit near 1000.
	a, err := New(4, rand.New(rand.NewPCG(7, 11)))
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	counts := map[[4]int]int{}
	for i := 0; i < 24000; i++ {
		a.Shuffle()
		var key [4]int
		copy(key[:], a.Permutation())
		counts[key]++
	}
	if len(counts) != 24 {
		t.Fatalf("expected 24 distinct permutations, got %d", len(counts))
	}
	for perm, c := range counts {
		if c < 800 || c > 1200 {
			t.Fatalf("permutation %v drawn %d times", perm, c)
		}
	}
}

func TestAssignValidatesPermutation(t *testing.T) {
	a, err := New(4, nil)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	bad := [][]int{
		{1, 2, 3},
		{1, 2, 3, 3},
		{0, 1, 2, 3},
		{1, 2, 3, 5},
	}
	for _, perm := range bad {
		if err := a.Assign(perm); !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Fatalf("perm %v: expected ErrInvalidConfiguration, got %v", perm, err)
		}
	}
	if err := a.Assign([]int{2, 1, 4, 3}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	c, err := a.ContainerByLabel(3)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if c.HiddenNumber != 4 {
		t.Fatalf("expected container 3 to hold 4, got %d", c.HiddenNumber)
	}
}

func TestContainerByLabelOutOfRange(t *testing.T) {
	a, err := New(4, nil)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	for _, label := range []int{-1, 0, 5} {
		if _, err := a.ContainerByLabel(label); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("label %d: expected ErrNotFound, got %v", label, err)
		}
	}
}

func TestContainersReturnsCopy(t *testing.T) {
	a, err := New(2, nil)
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	if err := a.Assign([]int{1, 2}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	snapshot := a.Containers()
	snapshot[0].HiddenNumber = 2
	c, _ := a.ContainerByLabel(1)
	if c.HiddenNumber != 1 {
		t.Fatalf("mutating snapshot leaked into arena")
	}
}
