// Package expreplay implements a bounded experience replay buffer
package expreplay

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/td3nav/timestep"
)

// Sampler is an experience replay buffer that batches of transitions
// can be drawn from
type Sampler interface {
	// Sample returns min(batchSize, Len()) distinct transitions
	Sample(batchSize int) Batch

	// Len returns the number of stored transitions
	Len() int
}

// Config implements a specific configuration of a Store
type Config struct {
	Capacity int
}

// Create creates and returns the Store with the specified Config.
func (c Config) Create(stateDim, actionDim int, seed uint64) (*Store, error) {
	return New(c.Capacity, stateDim, actionDim, seed)
}

// entry is a stored transition. Entries own their data.
type entry struct {
	state     []float64
	action    []float64
	reward    float64
	terminal  float64
	nextState []float64
}

// Store is a fixed capacity FIFO experience replay buffer. When the
// Store is full, adding a transition evicts the oldest stored
// transition. Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	data      *deque.Deque[entry]
	capacity  int
	stateDim  int
	actionDim int
	selector  Selector
}

// New returns a new Store holding at most capacity transitions of the
// given state and action dimensions. The seed determines the sequence
// of sampled batches.
func New(capacity, stateDim, actionDim int, seed uint64) (*Store, error) {
	if capacity <= 0 {
		return nil, &ExpReplayError{Op: "new", Err: errCapacity}
	}
	if stateDim <= 0 || actionDim <= 0 {
		return nil, &ExpReplayError{
			Op:  "new",
			Err: fmt.Errorf("%w: state dim %v, action dim %v", errShapeMismatch,
				stateDim, actionDim),
		}
	}

	return &Store{
		data:      deque.New[entry](),
		capacity:  capacity,
		stateDim:  stateDim,
		actionDim: actionDim,
		selector:  NewUniformSelector(seed),
	}, nil
}

// Add adds a copy of a transition to the Store, evicting the oldest
// transition if the Store is at capacity.
func (s *Store) Add(t timestep.Transition) error {
	if t.State == nil || t.NextState == nil || t.Action == nil {
		return &ExpReplayError{
			Op:  "add",
			Err: fmt.Errorf("%w: nil vector in transition", errShapeMismatch),
		}
	}
	if t.State.Len() != s.stateDim || t.NextState.Len() != s.stateDim {
		return &ExpReplayError{
			Op: "add",
			Err: fmt.Errorf("%w: state dims (%v, %v), want %v",
				errShapeMismatch, t.State.Len(), t.NextState.Len(), s.stateDim),
		}
	}
	if t.Action.Len() != s.actionDim {
		return &ExpReplayError{
			Op: "add",
			Err: fmt.Errorf("%w: action dim %v, want %v", errShapeMismatch,
				t.Action.Len(), s.actionDim),
		}
	}

	e := entry{
		state:     copyVec(t.State),
		action:    copyVec(t.Action),
		reward:    t.Reward,
		terminal:  t.TerminalFloat(),
		nextState: copyVec(t.NextState),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Len() >= s.capacity {
		s.data.PopFront()
	}
	s.data.PushBack(e)

	return nil
}

// Sample returns min(batchSize, Len()) transitions drawn uniformly at
// random without replacement. Sampling an empty Store returns an empty
// Batch.
func (s *Store) Sample(batchSize int) Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := Batch{StateDim: s.stateDim, ActionDim: s.actionDim}
	indices := s.selector.choose(batchSize, s.data.Len())
	if len(indices) == 0 {
		return batch
	}

	n := len(indices)
	batch.States = make([]float64, 0, n*s.stateDim)
	batch.Actions = make([]float64, 0, n*s.actionDim)
	batch.Rewards = make([]float64, 0, n)
	batch.Terminals = make([]float64, 0, n)
	batch.NextStates = make([]float64, 0, n*s.stateDim)

	for _, i := range indices {
		e := s.data.At(i)
		batch.States = append(batch.States, e.state...)
		batch.Actions = append(batch.Actions, e.action...)
		batch.Rewards = append(batch.Rewards, e.reward)
		batch.Terminals = append(batch.Terminals, e.terminal)
		batch.NextStates = append(batch.NextStates, e.nextState...)
	}

	return batch
}

// Len returns the number of transitions currently stored
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Len()
}

// Capacity returns the maximum number of transitions that can be stored
func (s *Store) Capacity() int {
	return s.capacity
}

// StateDim returns the dimension of stored states
func (s *Store) StateDim() int {
	return s.stateDim
}

// ActionDim returns the dimension of stored actions
func (s *Store) ActionDim() int {
	return s.actionDim
}

// Clear removes all transitions from the Store. The capacity is
// unchanged.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Clear()
}

func copyVec(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
