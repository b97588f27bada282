package network

import (
	G "gorgonia.org/gorgonia"
)

// Activation is an elementwise nonlinearity applied to the output of a
// layer
type Activation struct {
	name string
	f    func(x *G.Node) (*G.Node, error)
}

// fwd applies the Activation to x
func (a Activation) fwd(x *G.Node) (*G.Node, error) {
	if a.f == nil {
		return x, nil
	}
	return a.f(x)
}

func (a Activation) String() string {
	return a.name
}

// Identity returns the identity Activation
func Identity() Activation {
	return Activation{name: "identity"}
}

// ReLU returns the rectified linear Activation
func ReLU() Activation {
	return Activation{name: "relu", f: G.Rectify}
}

// TanH returns the hyperbolic tangent Activation, used to bound actor
// outputs
func TanH() Activation {
	return Activation{name: "tanh", f: G.Tanh}
}
