package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Transition is a single (state, action, reward, terminal, next state)
// tuple of experience.
//
// Terminal is true whenever the episode ended at this step, including
// when the episode was cut off by a step limit.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	Terminal  bool
	NextState mat.Vector
}

// NewTransition returns the Transition from step to next when taking
// action in step
func NewTransition(step TimeStep, action mat.Vector,
	next TimeStep, terminal bool) Transition {
	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    next.Reward,
		Terminal:  terminal,
		NextState: next.Observation,
	}
}

// TerminalFloat returns 1 if the transition ended the episode and 0
// otherwise
func (t Transition) TerminalFloat() float64 {
	if t.Terminal {
		return 1.0
	}
	return 0.0
}

func (t Transition) String() string {
	return fmt.Sprintf("Transition | Reward: %.3f  |  Terminal: %v  |  "+
		"State Dim: %v  |  Action Dim: %v", t.Reward, t.Terminal,
		t.State.Len(), t.Action.Len())
}
