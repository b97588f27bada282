// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuraiton files.
package solver

import (
	"encoding/json"
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// decoders decode the Config of each Solver Type
var decoders = map[Type]func(json.RawMessage) (Config, error){
	Adam:    decode[AdamConfig],
	Vanilla: decode[VanillaConfig],
	RMSProp: decode[RMSPropConfig],
}

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled. In JSON, a Solver is an object holding its Type and
// Config:
//
//	{"Type": "Adam", "Config": {"StepSize": 0.001, ...}}
//
// A Solver keeps per-weight state (e.g. Adam's moment estimates), so
// each network should be updated by its own Solver. Use Clone to create
// an independent Solver with the same configuration.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	return &Solver{Solver: c.Create(), Type: t, Config: c}, nil
}

// Clone returns a new Solver with the same configuration and no
// accumulated state
func (s *Solver) Clone() (*Solver, error) {
	return newSolver(s.Type, s.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	var env struct {
		Type   Type
		Config json.RawMessage
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	if env.Type == "" {
		return fmt.Errorf("unmarshalJSON: missing solver type")
	}

	decodeConfig, ok := decoders[env.Type]
	if !ok {
		return fmt.Errorf("unmarshalJSON: unknown solver type %v", env.Type)
	}
	config, err := decodeConfig(env.Config)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %v config: %w", env.Type, err)
	}

	solver, err := newSolver(env.Type, config)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	*s = *solver
	return nil
}

// decode decodes a Config of concrete type C. A missing Config decodes
// to the zero C.
func decode[C Config](raw json.RawMessage) (Config, error) {
	var c C
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
