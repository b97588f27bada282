package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ActorArch describes the architecture of a deterministic policy
// network: ReLU hidden layers followed by a tanh output layer scaled to
// [-MaxAction, MaxAction].
type ActorArch struct {
	Features  int
	Actions   int
	Hidden    []int
	MaxAction float64
}

// Validate returns an error if the architecture is malformed
func (a ActorArch) Validate() error {
	if a.Features <= 0 || a.Actions <= 0 {
		return fmt.Errorf("validate: actor needs positive feature and " +
			"action dimensions")
	}
	if len(a.Hidden) == 0 {
		return fmt.Errorf("validate: actor needs at least one hidden layer")
	}
	for _, h := range a.Hidden {
		if h <= 0 {
			return fmt.Errorf("validate: illegal hidden layer width %v", h)
		}
	}
	if a.MaxAction <= 0 {
		return fmt.Errorf("validate: max action must be positive")
	}
	return nil
}

// NewActorParams returns freshly initialized weights for an actor.
// Weights are drawn with init and biases start at zero.
func NewActorParams(arch ActorArch, init G.InitWFn) (Params, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("newActorParams: %w", err)
	}

	var p Params
	in := arch.Features
	for i, h := range arch.Hidden {
		name := fmt.Sprintf("l%d", i+1)
		p = append(p, weight(name+".weight", in, h, init), bias(name+".bias", h))
		in = h
	}
	p = append(p, weight("out.weight", in, arch.Actions, init),
		bias("out.bias", arch.Actions))

	return p, nil
}

// Actor is a deterministic policy network bound to a computational
// graph. Its input is a batch of states and its prediction is a batch
// of actions.
type Actor struct {
	arch  ActorArch
	g     *G.ExprGraph
	input *G.Node

	layers     []*fcLayer
	prediction *G.Node
	predVal    G.Value
}

// NewActor creates a new graph holding an Actor that takes batchSize
// states as input at once
func NewActor(arch ActorArch, params Params, batchSize int) (*Actor, error) {
	g := G.NewGraph()
	input := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, arch.Features),
		G.WithName("state"),
		G.WithInit(G.Zeroes()),
	)

	return AddActor(g, input, arch, params)
}

// AddActor adds an Actor to an existing graph, taking input as its
// batch of states
func AddActor(g *G.ExprGraph, input *G.Node, arch ActorArch,
	params Params) (*Actor, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("addActor: %w", err)
	}
	if !input.IsMatrix() || input.Shape()[1] != arch.Features {
		return nil, fmt.Errorf("addActor: input must be a matrix with %v "+
			"columns, got shape %v", arch.Features, input.Shape())
	}
	want := 2 * (len(arch.Hidden) + 1)
	if len(params) != want {
		return nil, fmt.Errorf("addActor: want %v parameters, got %v", want,
			len(params))
	}

	a := &Actor{arch: arch, g: g, input: input}

	x := input
	for i := 0; i < len(params); i += 2 {
		act := ReLU()
		if i == len(params)-2 {
			act = TanH()
		}
		layer := newFCLayer(g, params[i], params[i+1], act)
		a.layers = append(a.layers, layer)

		var err error
		if x, err = layer.fwd(x); err != nil {
			return nil, fmt.Errorf("addActor: layer %v: %v", i/2, err)
		}
	}

	if arch.MaxAction != 1.0 {
		scale := G.NewScalar(
			g,
			tensor.Float64,
			G.WithValue(arch.MaxAction),
			G.WithName("max_action"),
		)
		x = G.Must(G.Mul(x, scale))
	}
	a.prediction = x
	G.Read(a.prediction, &a.predVal)

	return a, nil
}

// Graph returns the computational graph of the Actor
func (a *Actor) Graph() *G.ExprGraph {
	return a.g
}

// Arch returns the architecture of the Actor
func (a *Actor) Arch() ActorArch {
	return a.arch
}

// BatchSize returns the number of states the Actor takes as input at once
func (a *Actor) BatchSize() int {
	return a.input.Shape()[0]
}

// Input returns the state input node of the Actor
func (a *Actor) Input() *G.Node {
	return a.input
}

// SetInput sets the batch of states, given in row major order, before
// running the forward pass
func (a *Actor) SetInput(states []float64) error {
	if len(states) != a.BatchSize()*a.arch.Features {
		return fmt.Errorf("setInput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", a.BatchSize()*a.arch.Features, len(states))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(states),
		tensor.WithShape(a.input.Shape()...),
	)
	return G.Let(a.input, inputTensor)
}

// Learnables returns the learnable nodes of the Actor in the same
// order as its Params
func (a *Actor) Learnables() G.Nodes {
	var nodes G.Nodes
	for _, layer := range a.layers {
		nodes = append(nodes, layer.learnables()...)
	}
	return nodes
}

// Model returns the learnables as value-gradient pairs for a solver
func (a *Actor) Model() []G.ValueGrad {
	return G.NodesToValueGrads(a.Learnables())
}

// Prediction returns the node of the computational graph the stores
// the output of the Actor
func (a *Actor) Prediction() *G.Node {
	return a.prediction
}

// Output returns a copy of the actions computed by the last forward
// pass in row major order
func (a *Actor) Output() []float64 {
	data := a.predVal.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

// SetParams copies weights into the Actor
func (a *Actor) SetParams(p Params) error {
	return setLearnables(a.Learnables(), p)
}

// Params returns a copy of the Actor's current weights
func (a *Actor) Params() Params {
	return readLearnables(a.Learnables())
}

func setLearnables(nodes G.Nodes, p Params) error {
	if len(nodes) != len(p) {
		return fmt.Errorf("setParams: want %v parameters, got %v", len(nodes),
			len(p))
	}
	for i := range nodes {
		if err := setNode(nodes[i], p[i]); err != nil {
			return fmt.Errorf("setParams: %w", err)
		}
	}
	return nil
}

func readLearnables(nodes G.Nodes) Params {
	p := make(Params, len(nodes))
	for i := range nodes {
		p[i] = readNode(nodes[i])
	}
	return p
}
