package timestep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestStepTypes(t *testing.T) {
	obs := mat.NewVecDense(2, nil)
	first := New(First, 0, obs, 0)
	assert.True(t, first.First())
	assert.False(t, first.Last())

	last := New(Last, 1, obs, 4)
	assert.True(t, last.Last())
	assert.Equal(t, "Last", last.StepType.String())
}

func TestNewTransition(t *testing.T) {
	state := New(First, 0, mat.NewVecDense(2, []float64{1, 2}), 0)
	next := New(Mid, -0.5, mat.NewVecDense(2, []float64{3, 4}), 1)
	action := mat.NewVecDense(1, []float64{0.25})

	tr := NewTransition(state, action, next, true)
	assert.Equal(t, -0.5, tr.Reward)
	assert.Equal(t, 1.0, tr.TerminalFloat())
	assert.True(t, mat.Equal(state.Observation, tr.State))
	assert.True(t, mat.Equal(next.Observation, tr.NextState))

	tr.Terminal = false
	assert.Equal(t, 0.0, tr.TerminalFloat())
}
