// Package network implements the policy and action-value networks of
// a TD3 agent as explicit parameter sets which can be bound to Gorgonia
// computational graphs.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a network bound to a computational graph
type NeuralNet interface {
	Graph() *G.ExprGraph
	BatchSize() int
	Learnables() G.Nodes
	Model() []G.ValueGrad
	SetParams(Params) error
	Params() Params
}

var (
	_ NeuralNet = &Actor{}
	_ NeuralNet = &Critic{}
)
