package expreplay

import (
	"golang.org/x/exp/rand"
)

// Selector implements functionality for choosing which stored
// transitions should be sampled from an experience replay buffer
type Selector interface {
	// choose selects n distinct indices in [0, size)
	choose(n, size int) []int
}

// uniformSelector is a Selector which selects data from an experience
// replay buffer uniformly randomly without replacement
type uniformSelector struct {
	rng *rand.Rand
}

// NewUniformSelector returns a new Selector which selects data uniformly
// randomly without replacement from an experience replay buffer
func NewUniformSelector(seed uint64) Selector {
	source := rand.NewSource(seed)
	rng := rand.New(source)

	return &uniformSelector{rng: rng}
}

// choose uses Floyd's algorithm so that the cost of a draw depends only
// on n and not on the number of stored transitions. The selected indices
// are shuffled so that their position within the batch is also uniform.
func (u *uniformSelector) choose(n, size int) []int {
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	selected := make([]int, 0, n)
	seen := make(map[int]struct{}, n)
	for j := size - n; j < size; j++ {
		t := u.rng.Intn(j + 1)
		if _, ok := seen[t]; ok {
			t = j
		}
		seen[t] = struct{}{}
		selected = append(selected, t)
	}

	u.rng.Shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})
	return selected
}
