package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Head prefixes of the twin critic's parameters
const (
	Q1 = "q1."
	Q2 = "q2."
)

// CriticArch describes the architecture of a twin action-value
// network. Each of the two heads computes
//
//	h1 = relu(state·W1 + b1)
//	h2 = relu(h1·Ws + action·Wa + b2)
//	q  = h2·W3 + b3
//
// with Hidden giving the widths of h1 and h2.
type CriticArch struct {
	Features int
	Actions  int
	Hidden   []int
}

// Validate returns an error if the architecture is malformed
func (c CriticArch) Validate() error {
	if c.Features <= 0 || c.Actions <= 0 {
		return fmt.Errorf("validate: critic needs positive feature and " +
			"action dimensions")
	}
	if len(c.Hidden) != 2 {
		return fmt.Errorf("validate: critic needs exactly 2 hidden layers, "+
			"got %v", len(c.Hidden))
	}
	for _, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("validate: illegal hidden layer width %v", h)
		}
	}
	return nil
}

// NewCriticParams returns freshly initialized weights for both heads of
// a twin critic. The parameters of the first head all start with Q1 and
// precede those of the second head, which start with Q2.
func NewCriticParams(arch CriticArch, init G.InitWFn) (Params, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("newCriticParams: %w", err)
	}

	var p Params
	for _, head := range []string{Q1, Q2} {
		p = append(p,
			weight(head+"l1.weight", arch.Features, arch.Hidden[0], init),
			bias(head+"l1.bias", arch.Hidden[0]),
			weight(head+"l2.state_weight", arch.Hidden[0], arch.Hidden[1], init),
			weight(head+"l2.action_weight", arch.Actions, arch.Hidden[1], init),
			bias(head+"l2.bias", arch.Hidden[1]),
			weight(head+"out.weight", arch.Hidden[1], 1, init),
			bias(head+"out.bias", 1),
		)
	}
	return p, nil
}

// criticHead is one of the two action-value estimates of a Critic
type criticHead struct {
	prefix string
	l1     *fcLayer
	merge  *mergeLayer
	out    *fcLayer

	hidden *G.Node
	q      *G.Node
	qVal   G.Value
}

func newCriticHead(g *G.ExprGraph, prefix string, p Params) (*criticHead,
	error) {
	p = p.WithPrefix(prefix)
	if len(p) != 7 {
		return nil, fmt.Errorf("newCriticHead: want 7 parameters with "+
			"prefix %v, got %v", prefix, len(p))
	}

	return &criticHead{
		prefix: prefix,
		l1:     newFCLayer(g, p[0], p[1], ReLU()),
		merge:  newMergeLayer(g, p[2], p[3], p[4], ReLU()),
		out:    newFCLayer(g, p[5], p[6], Identity()),
	}, nil
}

func (h *criticHead) fwd(state, action *G.Node) error {
	h1, err := h.l1.fwd(state)
	if err != nil {
		return fmt.Errorf("%vl1: %v", h.prefix, err)
	}
	if h.hidden, err = h.merge.fwd(h1, action); err != nil {
		return fmt.Errorf("%vl2: %v", h.prefix, err)
	}
	if h.q, err = h.out.fwd(h.hidden); err != nil {
		return fmt.Errorf("%vout: %v", h.prefix, err)
	}
	G.Read(h.q, &h.qVal)
	return nil
}

func (h *criticHead) learnables() G.Nodes {
	nodes := h.l1.learnables()
	nodes = append(nodes, h.merge.learnables()...)
	return append(nodes, h.out.learnables()...)
}

// Critic is a twin action-value network bound to a computational graph.
// A Critic may be built with only its first head, for graphs which only
// need q1.
type Critic struct {
	arch   CriticArch
	g      *G.ExprGraph
	state  *G.Node
	action *G.Node
	heads  []*criticHead
}

// NewCritic creates a new graph holding a Critic with both heads that
// takes batchSize state-action pairs as input at once
func NewCritic(arch CriticArch, params Params, batchSize int) (*Critic,
	error) {
	g := G.NewGraph()
	state := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, arch.Features),
		G.WithName("state"),
		G.WithInit(G.Zeroes()),
	)
	action := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batchSize, arch.Actions),
		G.WithName("action"),
		G.WithInit(G.Zeroes()),
	)

	return AddCritic(g, state, action, arch, params, 2)
}

// AddCritic adds a Critic with the given number of heads (1 or 2) to an
// existing graph. The action input may be the prediction of another
// network in the same graph.
func AddCritic(g *G.ExprGraph, state, action *G.Node, arch CriticArch,
	params Params, heads int) (*Critic, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("addCritic: %w", err)
	}
	if heads != 1 && heads != 2 {
		return nil, fmt.Errorf("addCritic: critic must have 1 or 2 heads, "+
			"got %v", heads)
	}
	if !state.IsMatrix() || state.Shape()[1] != arch.Features {
		return nil, fmt.Errorf("addCritic: state must be a matrix with %v "+
			"columns, got shape %v", arch.Features, state.Shape())
	}
	if !action.IsMatrix() || action.Shape()[1] != arch.Actions {
		return nil, fmt.Errorf("addCritic: action must be a matrix with %v "+
			"columns, got shape %v", arch.Actions, action.Shape())
	}

	c := &Critic{arch: arch, g: g, state: state, action: action}
	for _, prefix := range []string{Q1, Q2}[:heads] {
		head, err := newCriticHead(g, prefix, params)
		if err != nil {
			return nil, fmt.Errorf("addCritic: %w", err)
		}
		if err := head.fwd(state, action); err != nil {
			return nil, fmt.Errorf("addCritic: %v", err)
		}
		c.heads = append(c.heads, head)
	}

	return c, nil
}

// Graph returns the computational graph of the Critic
func (c *Critic) Graph() *G.ExprGraph {
	return c.g
}

// Heads returns the number of action-value heads of the Critic
func (c *Critic) Heads() int {
	return len(c.heads)
}

// BatchSize returns the number of state-action pairs the Critic takes as
// input at once
func (c *Critic) BatchSize() int {
	return c.state.Shape()[0]
}

// SetInput sets the batch of states and actions, given in row major
// order. It may only be called if the action input is not the output
// of another network.
func (c *Critic) SetInput(states, actions []float64) error {
	if len(states) != c.BatchSize()*c.arch.Features {
		return fmt.Errorf("setInput: invalid number of states\n\twant(%v)"+
			"\n\thave(%v)", c.BatchSize()*c.arch.Features, len(states))
	}
	if len(actions) != c.BatchSize()*c.arch.Actions {
		return fmt.Errorf("setInput: invalid number of actions\n\twant(%v)"+
			"\n\thave(%v)", c.BatchSize()*c.arch.Actions, len(actions))
	}
	if err := c.SetState(states); err != nil {
		return err
	}
	actionTensor := tensor.New(
		tensor.WithBacking(actions),
		tensor.WithShape(c.action.Shape()...),
	)
	return G.Let(c.action, actionTensor)
}

// SetState sets only the batch of states, given in row major order
func (c *Critic) SetState(states []float64) error {
	if len(states) != c.BatchSize()*c.arch.Features {
		return fmt.Errorf("setState: invalid number of states\n\twant(%v)"+
			"\n\thave(%v)", c.BatchSize()*c.arch.Features, len(states))
	}
	stateTensor := tensor.New(
		tensor.WithBacking(states),
		tensor.WithShape(c.state.Shape()...),
	)
	return G.Let(c.state, stateTensor)
}

// Learnables returns the learnable nodes of all heads of the Critic in
// the same order as its Params
func (c *Critic) Learnables() G.Nodes {
	var nodes G.Nodes
	for _, head := range c.heads {
		nodes = append(nodes, head.learnables()...)
	}
	return nodes
}

// Model returns the learnables as value-gradient pairs for a solver
func (c *Critic) Model() []G.ValueGrad {
	return G.NodesToValueGrads(c.Learnables())
}

// Q1 returns the node computing the first action-value estimate
func (c *Critic) Q1() *G.Node {
	return c.heads[0].q
}

// Q2 returns the node computing the second action-value estimate, or
// nil if the Critic has only one head
func (c *Critic) Q2() *G.Node {
	if len(c.heads) < 2 {
		return nil
	}
	return c.heads[1].q
}

// Output returns copies of the action-value estimates computed by the
// last forward pass. The second estimate is nil if the Critic has only
// one head.
func (c *Critic) Output() (q1, q2 []float64) {
	q1 = copyValue(c.heads[0].qVal)
	if len(c.heads) > 1 {
		q2 = copyValue(c.heads[1].qVal)
	}
	return q1, q2
}

// SetParams copies weights into the Critic. The Params may hold both
// heads even if the Critic has only one.
func (c *Critic) SetParams(p Params) error {
	for _, head := range c.heads {
		if err := setLearnables(head.learnables(),
			p.WithPrefix(head.prefix)); err != nil {
			return err
		}
	}
	return nil
}

// Params returns a copy of the Critic's current weights
func (c *Critic) Params() Params {
	return readLearnables(c.Learnables())
}

func copyValue(v G.Value) []float64 {
	data := v.Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}
