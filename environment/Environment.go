// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/td3nav/timestep"
)

// Starter implements a distribution of starting states and samples starting
// states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Ender determines when episodes should be ended
type Ender interface {
	// End returns whether the episode should end at the given TimeStep,
	// marking it as the last TimeStep if so
	End(*timestep.TimeStep) bool
}

// Environment implements an environment that an agent acts in. The
// environment itself may be simulated or may forward actions to a real
// robot.
type Environment interface {
	// Reset starts a new episode and returns its first TimeStep
	Reset() (timestep.TimeStep, error)

	// Step takes an action and returns the resulting TimeStep and
	// whether the episode has ended
	Step(action mat.Vector) (timestep.TimeStep, bool, error)

	ObservationSpec() Spec
	ActionSpec() Spec
}
