package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// learnable adds a node to the graph holding a copy of the Param's
// weights
func learnable(g *G.ExprGraph, p Param) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(p.Value.Shape()...),
		G.WithName(p.Name),
		G.WithValue(p.Value.Clone().(*tensor.Dense)),
	)
}

// setNode copies the weights of p into the value of a learnable node
func setNode(n *G.Node, p Param) error {
	if n.Name() != p.Name {
		return fmt.Errorf("setNode: cannot set node %v from parameter %v",
			n.Name(), p.Name)
	}
	data, ok := n.Value().Data().([]float64)
	if !ok {
		return fmt.Errorf("setNode: node %v is not float64", n.Name())
	}
	src := p.Data()
	if len(data) != len(src) {
		return fmt.Errorf("setNode: node %v has %v weights but parameter "+
			"has %v", n.Name(), len(data), len(src))
	}
	copy(data, src)
	return nil
}

// readNode returns the current weights of a learnable node as a Param
func readNode(n *G.Node) Param {
	return Param{
		Name:  n.Name(),
		Value: n.Value().(*tensor.Dense).Clone().(*tensor.Dense),
	}
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     Activation
}

// newFCLayer adds a fully connected layer with the given weights and
// bias to the graph
func newFCLayer(g *G.ExprGraph, weights, bias Param,
	act Activation) *fcLayer {
	return &fcLayer{
		weights: learnable(g, weights),
		bias:    learnable(g, bias),
		act:     act,
	}
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	x, err := G.Mul(x, f.weights)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	x, err = G.BroadcastAdd(x, f.bias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return f.act.fwd(x)
}

func (f *fcLayer) learnables() G.Nodes {
	return G.Nodes{f.weights, f.bias}
}

// mergeLayer is a hidden layer that takes two inputs, a hidden
// representation of the state and an action:
//
//	act(h·Ws + a·Wa + b)
//
// Each term is kept as its own node so it can be inspected.
type mergeLayer struct {
	stateWeights  *G.Node
	actionWeights *G.Node
	bias          *G.Node
	act           Activation

	stateTerm  *G.Node
	actionTerm *G.Node
	preAct     *G.Node
}

func newMergeLayer(g *G.ExprGraph, stateWeights, actionWeights,
	bias Param, act Activation) *mergeLayer {
	return &mergeLayer{
		stateWeights:  learnable(g, stateWeights),
		actionWeights: learnable(g, actionWeights),
		bias:          learnable(g, bias),
		act:           act,
	}
}

func (m *mergeLayer) fwd(h, action *G.Node) (*G.Node, error) {
	var err error
	if m.stateTerm, err = G.Mul(h, m.stateWeights); err != nil {
		return nil, fmt.Errorf("fwd: state term: %v", err)
	}
	if m.actionTerm, err = G.Mul(action, m.actionWeights); err != nil {
		return nil, fmt.Errorf("fwd: action term: %v", err)
	}

	sum, err := G.Add(m.stateTerm, m.actionTerm)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	m.preAct, err = G.BroadcastAdd(sum, m.bias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return m.act.fwd(m.preAct)
}

func (m *mergeLayer) learnables() G.Nodes {
	return G.Nodes{m.stateWeights, m.actionWeights, m.bias}
}
