// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either the
// first environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment.
// Number counts the steps taken in the current episode, starting at 0
// for the TimeStep returned by a reset.
type TimeStep struct {
	StepType
	Reward      float64
	Observation *mat.VecDense
	Number      int
}

// New returns a new TimeStep
func New(t StepType, r float64, o *mat.VecDense, n int) TimeStep {
	return TimeStep{t, r, o, n}
}

// First returns whether a TimeStep is the first in an episode
func (t TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t TimeStep) Last() bool {
	return t.StepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Number)
}
