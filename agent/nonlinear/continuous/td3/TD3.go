// Package td3 implements the Twin Delayed Deep Deterministic Policy
// Gradient (TD3) algorithm for continuous actions.
//
// TD3 learns a deterministic actor together with two independent
// action-value estimates (a twin critic). Each has a target copy which
// tracks the live weights by Polyak averaging. The critic is trained
// towards
//
//	y = r + (1 - terminal) γ min(q1'(s', ã), q2'(s', ã))
//
// where ã is the target actor's action with clipped Gaussian noise
// added. The actor and both targets are updated only on every
// PolicyFreq-th round of a training step.
package td3

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/td3nav/agent"
	"github.com/samuelfneumann/td3nav/experiment/tracker"
	"github.com/samuelfneumann/td3nav/expreplay"
	"github.com/samuelfneumann/td3nav/initwfn"
	"github.com/samuelfneumann/td3nav/network"
	"github.com/samuelfneumann/td3nav/utils/floatutils"
)

// Names of the series emitted to a registered tracker.Sink after each
// call to TrainStep
const (
	LossSeries     = "Loss"
	AverageQSeries = "Average_Q_Value"
	MaxQSeries     = "Max_Q_Value"
)

// Stats summarizes a call to TrainStep
type Stats struct {
	Rounds       int     // Rounds with a non-empty batch
	ActorUpdates int     // Rounds which updated the actor and targets
	AverageLoss  float64 // Mean critic loss over all rounds
	AverageQ     float64 // Mean of the min target Q over all rounds
	MaxQ         float64 // Largest min target Q seen in any round
}

// TD3 implements the TD3 algorithm. The canonical weights of all four
// networks are kept as network.Params; computational graphs are built
// per batch size and refreshed from these weights before use.
//
// All methods are safe for concurrent use, but calls are serialized.
type TD3 struct {
	mu sync.Mutex

	actorArch  network.ActorArch
	criticArch network.CriticArch

	actor        network.Params
	actorTarget  network.Params
	critic       network.Params
	criticTarget network.Params

	actorSolver  G.Solver
	criticSolver G.Solver

	// Batch size 1 actor for action selection
	policy   *network.Actor
	policyVM G.VM

	nets map[int]*batchNets

	noise     rand.Source
	iterCount int
	sink      tracker.Sink
	logger    zerolog.Logger
}

var _ agent.Agent = &TD3{}

// New creates a new TD3 agent for states with features dimensions and
// actions with actions dimensions. The target networks start as exact
// copies of the live networks.
func New(features, actions int, c Config, seed uint64,
	logger zerolog.Logger) (*TD3, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	actorArch := network.ActorArch{
		Features:  features,
		Actions:   actions,
		Hidden:    c.ActorLayers,
		MaxAction: c.MaxAction,
	}
	criticArch := network.CriticArch{
		Features: features,
		Actions:  actions,
		Hidden:   c.CriticLayers,
	}

	init := c.InitWFn
	if init == nil {
		var err error
		if init, err = initwfn.NewFanInUniform(seed); err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}
	}

	actor, err := network.NewActorParams(actorArch, init.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	critic, err := network.NewCriticParams(criticArch, init.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	// Solvers keep per-weight state, so never share them between
	// networks or agents
	actorSolver, err := c.ActorSolver.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: actor solver: %w", err)
	}
	criticSolver, err := c.CriticSolver.Clone()
	if err != nil {
		return nil, fmt.Errorf("new: critic solver: %w", err)
	}

	policy, err := network.NewActor(actorArch, actor, 1)
	if err != nil {
		return nil, fmt.Errorf("new: policy: %w", err)
	}

	t := &TD3{
		actorArch:    actorArch,
		criticArch:   criticArch,
		actor:        actor,
		actorTarget:  actor.Clone(),
		critic:       critic,
		criticTarget: critic.Clone(),
		actorSolver:  actorSolver,
		criticSolver: criticSolver,
		policy:       policy,
		policyVM:     G.NewTapeMachine(policy.Graph()),
		nets:         make(map[int]*batchNets),
		noise:        rand.NewSource(seed),
		logger:       logger.With().Str("component", "td3").Logger(),
	}

	return t, nil
}

// Register sets the Sink which receives training statistics
func (t *TD3) Register(sink tracker.Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

// SelectAction returns the action of the live actor in a state. No
// exploration noise is added.
func (t *TD3) SelectAction(state mat.Vector) (*mat.VecDense, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.Len() != t.actorArch.Features {
		return nil, fmt.Errorf("selectAction: state has %v features, want %v",
			state.Len(), t.actorArch.Features)
	}

	input := make([]float64, state.Len())
	for i := range input {
		input[i] = state.AtVec(i)
	}
	if err := t.policy.SetInput(input); err != nil {
		return nil, fmt.Errorf("selectAction: %w", err)
	}

	if err := t.policyVM.RunAll(); err != nil {
		return nil, fmt.Errorf("selectAction: could not run policy: %v", err)
	}
	action := t.policy.Output()
	t.policyVM.Reset()

	return mat.NewVecDense(len(action), action), nil
}

// TrainStep performs u.Iterations rounds of sampling a batch from the
// sampler and updating the agent. A round whose sample is empty is
// skipped.
func (t *TD3) TrainStep(sampler expreplay.Sampler, u UpdateConfig) (Stats,
	error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := u.Validate(); err != nil {
		return Stats{}, fmt.Errorf("trainStep: %w", err)
	}

	stats := Stats{MaxQ: math.Inf(-1)}
	totalLoss, totalQ := 0.0, 0.0
	for it := 0; it < u.Iterations; it++ {
		batch := sampler.Sample(u.BatchSize)
		if batch.Empty() {
			continue
		}

		r, err := t.round(batch, u, it)
		if err != nil {
			err = errors.Join(err, t.syncPolicy())
			return stats, fmt.Errorf("trainStep: round %v: %w", it, err)
		}

		stats.Rounds++
		totalLoss += r.loss
		totalQ += r.meanQ
		stats.MaxQ = math.Max(stats.MaxQ, r.maxQ)
		if r.actorUpdated {
			stats.ActorUpdates++
		}
	}

	if err := t.syncPolicy(); err != nil {
		return stats, fmt.Errorf("trainStep: %w", err)
	}
	if stats.Rounds == 0 {
		stats.MaxQ = 0
		return stats, nil
	}

	stats.AverageLoss = totalLoss / float64(stats.Rounds)
	stats.AverageQ = totalQ / float64(stats.Rounds)

	t.iterCount++
	if t.sink != nil {
		t.sink.Add(LossSeries, t.iterCount, stats.AverageLoss)
		t.sink.Add(AverageQSeries, t.iterCount, stats.AverageQ)
		t.sink.Add(MaxQSeries, t.iterCount, stats.MaxQ)
	}

	return stats, nil
}

// roundStats summarizes a single round of a training step
type roundStats struct {
	loss         float64
	meanQ        float64
	maxQ         float64
	actorUpdated bool
}

// round performs a single critic update on a batch, followed by an
// actor and target update if it is divisible by the policy frequency
func (t *TD3) round(batch expreplay.Batch, u UpdateConfig,
	it int) (roundStats, error) {
	n, err := t.netsFor(batch.Len(), u.BatchSize)
	if err != nil {
		return roundStats{}, err
	}

	y, minQ, err := t.bellmanTargets(n, batch, u)
	if err != nil {
		return roundStats{}, err
	}
	stats := roundStats{
		meanQ: floats.Sum(minQ) / float64(len(minQ)),
		maxQ:  floats.Max(minQ),
	}

	if stats.loss, err = t.updateCritic(n, batch, y); err != nil {
		return stats, err
	}

	if it%u.PolicyFreq == 0 {
		if err := t.updateActor(n, batch); err != nil {
			return stats, err
		}
		if err := network.Polyak(t.actorTarget, t.actor, u.Tau); err != nil {
			return stats, err
		}
		if err := network.Polyak(t.criticTarget, t.critic, u.Tau); err != nil {
			return stats, err
		}
		stats.actorUpdated = true
	}

	return stats, nil
}

// bellmanTargets returns the Bellman targets of a batch together with
// the minimum of the two target critic estimates for each transition
func (t *TD3) bellmanTargets(n *batchNets, batch expreplay.Batch,
	u UpdateConfig) (y, minQ []float64, err error) {
	// Target policy smoothing
	if err := n.targetActor.SetParams(t.actorTarget); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: %w", err)
	}
	if err := n.targetActor.SetInput(batch.NextStates); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: %w", err)
	}
	if err := n.targetActorVM.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: could not run target "+
			"actor: %v", err)
	}
	nextActions := n.targetActor.Output()
	n.targetActorVM.Reset()
	t.smooth(nextActions, u)

	// Clipped double Q estimate
	if err := n.targetCritic.SetParams(t.criticTarget); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: %w", err)
	}
	if err := n.targetCritic.SetInput(batch.NextStates,
		nextActions); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: %w", err)
	}
	if err := n.targetCriticVM.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("bellmanTargets: could not run target "+
			"critic: %v", err)
	}
	q1, q2 := n.targetCritic.Output()
	n.targetCriticVM.Reset()

	minQ = make([]float64, len(q1))
	for i := range q1 {
		minQ[i] = math.Min(q1[i], q2[i])
	}

	y = bellmanTarget(batch.Rewards, batch.Terminals, minQ, u.Discount)
	return y, minQ, nil
}

// bellmanTarget returns r + (1 - terminal) * discount * q elementwise
func bellmanTarget(rewards, terminals, q []float64,
	discount float64) []float64 {
	y := make([]float64, len(rewards))
	for i := range y {
		y[i] = rewards[i] + (1-terminals[i])*discount*q[i]
	}
	return y
}

// smooth adds clipped Gaussian noise to actions in place and clips the
// result to the action bounds
func (t *TD3) smooth(actions []float64, u UpdateConfig) {
	noise := distuv.Normal{Mu: 0, Sigma: u.PolicyNoise, Src: t.noise}
	maxAction := t.actorArch.MaxAction

	for i := range actions {
		eps := 0.0
		if u.PolicyNoise > 0 {
			eps = floatutils.Clip(noise.Rand(), -u.NoiseClip, u.NoiseClip)
		}
		actions[i] = floatutils.Clip(actions[i]+eps, -maxAction, maxAction)
	}
}

// updateCritic takes one solver step on the twin critic loss and returns
// the loss before the step
func (t *TD3) updateCritic(n *batchNets, batch expreplay.Batch,
	y []float64) (float64, error) {
	if err := n.critic.SetParams(t.critic); err != nil {
		return 0, fmt.Errorf("updateCritic: %w", err)
	}
	if err := n.critic.SetInput(batch.States, batch.Actions); err != nil {
		return 0, fmt.Errorf("updateCritic: %w", err)
	}
	target := tensor.New(
		tensor.WithShape(len(y), 1),
		tensor.WithBacking(y),
	)
	if err := G.Let(n.criticTarget, target); err != nil {
		return 0, fmt.Errorf("updateCritic: could not set target: %v", err)
	}

	if err := n.criticVM.RunAll(); err != nil {
		return 0, fmt.Errorf("updateCritic: could not run critic: %v", err)
	}
	loss, err := scalar(n.criticLossVal)
	if err != nil {
		n.criticVM.Reset()
		return 0, fmt.Errorf("updateCritic: %w", err)
	}
	if err := t.criticSolver.Step(n.critic.Model()); err != nil {
		n.criticVM.Reset()
		return 0, fmt.Errorf("updateCritic: could not step solver: %v", err)
	}
	n.criticVM.Reset()

	if err := network.Set(t.critic, n.critic.Params()); err != nil {
		return 0, fmt.Errorf("updateCritic: %w", err)
	}
	return loss, nil
}

// updateActor takes one solver step on the actor loss, leaving the
// critic unchanged
func (t *TD3) updateActor(n *batchNets, batch expreplay.Batch) error {
	if err := n.actor.SetParams(t.actor); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := n.actorCritic.SetParams(t.critic); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	if err := n.actor.SetInput(batch.States); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}

	if err := n.actorVM.RunAll(); err != nil {
		return fmt.Errorf("updateActor: could not run actor: %v", err)
	}
	if err := t.actorSolver.Step(n.actor.Model()); err != nil {
		n.actorVM.Reset()
		return fmt.Errorf("updateActor: could not step solver: %v", err)
	}
	n.actorVM.Reset()

	if err := network.Set(t.actor, n.actor.Params()); err != nil {
		return fmt.Errorf("updateActor: %w", err)
	}
	return nil
}

// netsFor returns the graphs for batches of the given size. At most one
// graph set for a size other than the configured batch size is kept, so
// that the short batches drawn while the replay buffer fills do not
// accumulate graphs.
func (t *TD3) netsFor(size, batchSize int) (*batchNets, error) {
	if n, ok := t.nets[size]; ok {
		return n, nil
	}

	if size != batchSize {
		for s, n := range t.nets {
			if s == batchSize {
				continue
			}
			if err := n.close(); err != nil {
				t.logger.Warn().Err(err).Int("batch", s).
					Msg("could not close graphs")
			}
			delete(t.nets, s)
		}
	}

	n, err := newBatchNets(t, size)
	if err != nil {
		return nil, err
	}
	t.nets[size] = n
	t.logger.Debug().Int("batch", size).Msg("built training graphs")

	return n, nil
}

// syncPolicy copies the live actor weights into the action selection
// graph
func (t *TD3) syncPolicy() error {
	if err := t.policy.SetParams(t.actor); err != nil {
		return fmt.Errorf("syncPolicy: %w", err)
	}
	return nil
}

// Save saves the live actor and critic weights to
// <dir>/<name>_actor.bin and <dir>/<name>_critic.bin
func (t *TD3) Save(name, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	actorFile, criticFile := filenames(name, dir)
	actorTmp, err := writeTemp(t.actor, actorFile)
	if err != nil {
		return fmt.Errorf("save: actor: %w", err)
	}
	criticTmp, err := writeTemp(t.critic, criticFile)
	if err != nil {
		os.Remove(actorTmp)
		return fmt.Errorf("save: critic: %w", err)
	}

	// Both files are fully written before either replaces a previous save
	if err := os.Rename(criticTmp, criticFile); err != nil {
		os.Remove(actorTmp)
		os.Remove(criticTmp)
		return fmt.Errorf("save: critic: %w", err)
	}
	if err := os.Rename(actorTmp, actorFile); err != nil {
		os.Remove(actorTmp)
		return fmt.Errorf("save: actor: %w", err)
	}

	t.logger.Debug().Str("actor", actorFile).Str("critic", criticFile).
		Msg("saved weights")
	return nil
}

// Load loads weights saved by Save. Both files are read and checked
// against the agent's architecture before any weights change, so the
// agent is unchanged if Load returns an error. On success the target
// networks are reset to the loaded weights.
func (t *TD3) Load(name, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	actorFile, criticFile := filenames(name, dir)
	actor, err := loadParams(actorFile)
	if err != nil {
		return fmt.Errorf("load: actor: %w", err)
	}
	critic, err := loadParams(criticFile)
	if err != nil {
		return fmt.Errorf("load: critic: %w", err)
	}
	if err := t.actor.Compatible(actor); err != nil {
		return fmt.Errorf("load: actor: %w", err)
	}
	if err := t.critic.Compatible(critic); err != nil {
		return fmt.Errorf("load: critic: %w", err)
	}

	t.actor, t.critic = actor, critic
	t.actorTarget, t.criticTarget = actor.Clone(), critic.Clone()

	return t.syncPolicy()
}

// Close releases the resources held by the agent's VMs
func (t *TD3) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.policyVM.Close()
	for s, n := range t.nets {
		if closeErr := n.close(); closeErr != nil && err == nil {
			err = closeErr
		}
		delete(t.nets, s)
	}
	return err
}

// Params returns copies of the live and target weights of the actor and
// critic
func (t *TD3) Params() (actor, actorTarget, critic,
	criticTarget network.Params) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actor.Clone(), t.actorTarget.Clone(), t.critic.Clone(),
		t.criticTarget.Clone()
}

func filenames(name, dir string) (actor, critic string) {
	return filepath.Join(dir, name+"_actor.bin"),
		filepath.Join(dir, name+"_critic.bin")
}

// writeTemp writes p to a temporary file next to filename and returns
// the temporary file's name
func writeTemp(p network.Params, filename string) (name string, err error) {
	file, err := os.CreateTemp(filepath.Dir(filename),
		filepath.Base(filename)+".tmp*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(file.Name())
		}
	}()

	if err = p.Save(file); err != nil {
		return "", err
	}
	if err = file.Close(); err != nil {
		return "", err
	}
	return file.Name(), nil
}

func loadParams(filename string) (network.Params, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return network.LoadParams(file)
}
