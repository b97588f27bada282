package td3

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/td3nav/network"
)

// batchNets holds the computational graphs used for training on
// batches of a single size. The graphs own copies of the weights which
// are refreshed from the agent's Params before each use.
type batchNets struct {
	size int

	// Target actor used to choose next actions for the Bellman target
	targetActor   *network.Actor
	targetActorVM G.VM

	// Target twin critic used to evaluate next state-action pairs
	targetCritic   *network.Critic
	targetCriticVM G.VM

	// Live twin critic trained towards the Bellman target
	critic        *network.Critic
	criticTarget  *G.Node
	criticLoss    *G.Node
	criticLossVal G.Value
	criticVM      G.VM

	// Live actor trained through the first head of the live critic
	actor        *network.Actor
	actorCritic  *network.Critic
	actorLoss    *G.Node
	actorLossVal G.Value
	actorVM      G.VM
}

// newBatchNets builds the training graphs for batches of the given size
func newBatchNets(t *TD3, size int) (*batchNets, error) {
	n := &batchNets{size: size}

	var err error
	n.targetActor, err = network.NewActor(t.actorArch, t.actorTarget, size)
	if err != nil {
		return nil, fmt.Errorf("newBatchNets: target actor: %w", err)
	}
	n.targetActorVM = G.NewTapeMachine(n.targetActor.Graph())

	n.targetCritic, err = network.NewCritic(t.criticArch, t.criticTarget, size)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("newBatchNets: target critic: %w", err)
	}
	n.targetCriticVM = G.NewTapeMachine(n.targetCritic.Graph())

	if err = n.buildCritic(t, size); err != nil {
		n.close()
		return nil, fmt.Errorf("newBatchNets: %w", err)
	}
	if err = n.buildActor(t, size); err != nil {
		n.close()
		return nil, fmt.Errorf("newBatchNets: %w", err)
	}

	return n, nil
}

// buildCritic builds the graph computing the twin critic loss
//
//	MSE(q1, y) + MSE(q2, y)
//
// where y is fed in from outside the graph so that no gradient flows
// through it
func (n *batchNets) buildCritic(t *TD3, size int) error {
	critic, err := network.NewCritic(t.criticArch, t.critic, size)
	if err != nil {
		return fmt.Errorf("critic: %w", err)
	}
	g := critic.Graph()

	target := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(size, 1),
		G.WithName("bellman_target"),
		G.WithInit(G.Zeroes()),
	)

	q1Loss, err := mse(critic.Q1(), target)
	if err != nil {
		return fmt.Errorf("critic: q1 loss: %v", err)
	}
	q2Loss, err := mse(critic.Q2(), target)
	if err != nil {
		return fmt.Errorf("critic: q2 loss: %v", err)
	}
	loss, err := G.Add(q1Loss, q2Loss)
	if err != nil {
		return fmt.Errorf("critic: loss: %v", err)
	}
	G.Read(loss, &n.criticLossVal)

	if _, err := G.Grad(loss, critic.Learnables()...); err != nil {
		return fmt.Errorf("critic: could not compute gradient: %v", err)
	}

	n.critic = critic
	n.criticTarget = target
	n.criticLoss = loss
	n.criticVM = G.NewTapeMachine(g, G.BindDualValues(critic.Learnables()...))
	return nil
}

// buildActor builds the graph computing the actor loss
//
//	-mean(q1(s, actor(s)))
//
// with gradients taken with respect to the actor weights only
func (n *batchNets) buildActor(t *TD3, size int) error {
	actor, err := network.NewActor(t.actorArch, t.actor, size)
	if err != nil {
		return fmt.Errorf("actor: %w", err)
	}
	g := actor.Graph()

	critic, err := network.AddCritic(g, actor.Input(), actor.Prediction(),
		t.criticArch, t.critic, 1)
	if err != nil {
		return fmt.Errorf("actor: critic: %w", err)
	}

	meanQ, err := G.Mean(critic.Q1())
	if err != nil {
		return fmt.Errorf("actor: loss: %v", err)
	}
	loss, err := G.Neg(meanQ)
	if err != nil {
		return fmt.Errorf("actor: loss: %v", err)
	}
	G.Read(loss, &n.actorLossVal)

	if _, err := G.Grad(loss, actor.Learnables()...); err != nil {
		return fmt.Errorf("actor: could not compute gradient: %v", err)
	}

	n.actor = actor
	n.actorCritic = critic
	n.actorLoss = loss
	n.actorVM = G.NewTapeMachine(g, G.BindDualValues(actor.Learnables()...))
	return nil
}

// close releases the VMs of the batchNets
func (n *batchNets) close() error {
	var firstErr error
	for _, vm := range []G.VM{n.targetActorVM, n.targetCriticVM, n.criticVM,
		n.actorVM} {
		if vm == nil {
			continue
		}
		if err := vm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mse adds the mean squared error between pred and target to the graph
func mse(pred, target *G.Node) (*G.Node, error) {
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	sq, err := G.Square(diff)
	if err != nil {
		return nil, err
	}
	return G.Mean(sq)
}

// scalar returns the float64 held by a scalar Value
func scalar(v G.Value) (float64, error) {
	switch data := v.Data().(type) {
	case float64:
		return data, nil
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("scalar: value %v is not a float64 scalar", v)
}
