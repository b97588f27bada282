package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/samuelfneumann/td3nav/timestep"
)

func TestSpec(t *testing.T) {
	s := NewSpec(Action, mat.NewVecDense(2, []float64{-1, -1}),
		mat.NewVecDense(2, []float64{1, 1}))

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(mat.NewVecDense(2, []float64{0.5, -1})))
	assert.False(t, s.Contains(mat.NewVecDense(2, []float64{1.5, 0})))
	assert.False(t, s.Contains(mat.NewVecDense(3, nil)))

	assert.Panics(t, func() {
		NewSpec(Observation, mat.NewVecDense(2, nil), mat.NewVecDense(3, nil))
	})
}

func TestStepLimit(t *testing.T) {
	limit := NewStepLimit(3)
	assert.Equal(t, 3, limit.Steps())

	step := timestep.New(timestep.Mid, 0, mat.NewVecDense(1, nil), 2)
	assert.False(t, limit.End(&step))
	assert.True(t, step.Mid())

	step.Number = 3
	assert.True(t, limit.End(&step))
	assert.True(t, step.Last())
}

func TestUniformStarter(t *testing.T) {
	bounds := []r1.Interval{{Min: -1, Max: 1}, {Min: 5, Max: 6}}
	a := NewUniformStarter(bounds, 11)
	b := NewUniformStarter(bounds, 11)

	for i := 0; i < 50; i++ {
		x, y := a.Start(), b.Start()
		assert.True(t, mat.Equal(x, y))
		for j, bound := range bounds {
			assert.GreaterOrEqual(t, x.AtVec(j), bound.Min)
			assert.LessOrEqual(t, x.AtVec(j), bound.Max)
		}
	}
}
