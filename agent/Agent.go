// Package agent defines the interfaces of learning agents
package agent

import (
	"gonum.org/v1/gonum/mat"
)

// Policy represents a deterministic policy that an agent can have.
type Policy interface {
	// SelectAction returns the action the policy takes in a state
	SelectAction(state mat.Vector) (*mat.VecDense, error)
}

// Persister is an agent whose weights can be saved to and loaded from
// named files in a directory
type Persister interface {
	Save(name, dir string) error

	// Load replaces the agent's weights with those saved under name in
	// dir. On error the agent must be left unchanged.
	Load(name, dir string) error
}

// Closer is an agent that must be closed after it is done learning
type Closer interface {
	Close() error
}

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Policy which chooses actions in each state
// and the ability to persist the weights which determine that Policy.
// How the agent learns is left to the concrete type, since learners
// differ in the data they need.
type Agent interface {
	Policy
	Persister
	Closer
}
