package td3

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/samuelfneumann/td3nav/experiment/tracker"
	"github.com/samuelfneumann/td3nav/expreplay"
	"github.com/samuelfneumann/td3nav/network"
	"github.com/samuelfneumann/td3nav/solver"
	"github.com/samuelfneumann/td3nav/timestep"
)

const (
	testFeatures = 4
	testActions  = 2
)

func testConfig(t testing.TB) Config {
	t.Helper()
	actorSolver, err := solver.NewDefaultAdam(1e-3)
	require.NoError(t, err)
	criticSolver, err := solver.NewDefaultAdam(1e-3)
	require.NoError(t, err)

	return Config{
		ActorLayers:  []int{16, 12},
		CriticLayers: []int{16, 12},
		ActorSolver:  actorSolver,
		CriticSolver: criticSolver,
		MaxAction:    1.0,
	}
}

func newTestAgent(t testing.TB, seed uint64) *TD3 {
	t.Helper()
	agent, err := New(testFeatures, testActions, testConfig(t), seed,
		zerolog.Nop())
	require.NoError(t, err)
	return agent
}

// filledStore returns a replay buffer holding n random transitions
func filledStore(t testing.TB, n int, seed uint64) *expreplay.Store {
	t.Helper()
	store, err := expreplay.New(n, testFeatures, testActions, seed)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	vec := func(size int, scale float64) *mat.VecDense {
		data := make([]float64, size)
		for i := range data {
			data[i] = scale * (2*rng.Float64() - 1)
		}
		return mat.NewVecDense(size, data)
	}

	for i := 0; i < n; i++ {
		require.NoError(t, store.Add(timestep.Transition{
			State:     vec(testFeatures, 1),
			Action:    vec(testActions, 1),
			Reward:    rng.Float64(),
			Terminal:  i%10 == 0,
			NextState: vec(testFeatures, 1),
		}))
	}
	return store
}

func update(iterations, policyFreq int) UpdateConfig {
	u := DefaultUpdateConfig(iterations)
	u.BatchSize = 8
	u.Discount = 0.99
	u.PolicyFreq = policyFreq
	return u
}

func maxDiff(t *testing.T, a, b network.Params) float64 {
	t.Helper()
	diff, err := network.MaxAbsDiff(a, b)
	require.NoError(t, err)
	return diff
}

func TestNewTargetsMatchLive(t *testing.T) {
	agent := newTestAgent(t, 1)
	defer agent.Close()

	actor, actorTarget, critic, criticTarget := agent.Params()
	require.Zero(t, maxDiff(t, actor, actorTarget))
	require.Zero(t, maxDiff(t, critic, criticTarget))

	// The target actor computes the same actions as the live actor
	target, err := network.NewActor(agent.actorArch, actorTarget, 1)
	require.NoError(t, err)
	vm := G.NewTapeMachine(target.Graph())
	defer vm.Close()

	state := []float64{0.3, -0.2, 0.9, -1.0}
	require.NoError(t, target.SetInput(state))
	require.NoError(t, vm.RunAll())
	want := target.Output()
	vm.Reset()

	got, err := agent.SelectAction(mat.NewVecDense(testFeatures, state))
	require.NoError(t, err)
	require.InDeltaSlice(t, want, got.RawVector().Data, 1e-12)
}

func TestNewSeeded(t *testing.T) {
	a := newTestAgent(t, 5)
	defer a.Close()
	b := newTestAgent(t, 5)
	defer b.Close()
	c := newTestAgent(t, 6)
	defer c.Close()

	aActor, _, aCritic, _ := a.Params()
	bActor, _, bCritic, _ := b.Params()
	cActor, _, _, _ := c.Params()
	require.Zero(t, maxDiff(t, aActor, bActor))
	require.Zero(t, maxDiff(t, aCritic, bCritic))
	require.NotZero(t, maxDiff(t, aActor, cActor))
}

func TestNewInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.CriticLayers = []int{16}
	_, err := New(testFeatures, testActions, c, 0, zerolog.Nop())
	require.Error(t, err)

	c = testConfig(t)
	c.ActorSolver = nil
	_, err = New(testFeatures, testActions, c, 0, zerolog.Nop())
	require.Error(t, err)
}

func TestSelectAction(t *testing.T) {
	agent := newTestAgent(t, 2)
	defer agent.Close()

	state := mat.NewVecDense(testFeatures, []float64{1, 2, 3, 4})
	a1, err := agent.SelectAction(state)
	require.NoError(t, err)
	a2, err := agent.SelectAction(state)
	require.NoError(t, err)

	require.Equal(t, testActions, a1.Len())
	require.True(t, mat.Equal(a1, a2))
	for i := 0; i < a1.Len(); i++ {
		require.LessOrEqual(t, math.Abs(a1.AtVec(i)), 1.0)
	}

	_, err = agent.SelectAction(mat.NewVecDense(testFeatures+1, nil))
	require.Error(t, err)
}

func TestTrainStepEmptyStore(t *testing.T) {
	agent := newTestAgent(t, 3)
	defer agent.Close()
	actor, _, critic, _ := agent.Params()

	store, err := expreplay.New(10, testFeatures, testActions, 0)
	require.NoError(t, err)

	stats, err := agent.TrainStep(store, update(5, 2))
	require.NoError(t, err)
	require.Zero(t, stats.Rounds)
	require.Zero(t, stats.ActorUpdates)

	newActor, _, newCritic, _ := agent.Params()
	require.Zero(t, maxDiff(t, actor, newActor))
	require.Zero(t, maxDiff(t, critic, newCritic))
}

func TestTrainStepInvalidUpdate(t *testing.T) {
	agent := newTestAgent(t, 3)
	defer agent.Close()
	store := filledStore(t, 20, 1)

	u := update(1, 0)
	_, err := agent.TrainStep(store, u)
	require.Error(t, err)

	u = update(1, 2)
	u.BatchSize = 0
	_, err = agent.TrainStep(store, u)
	require.Error(t, err)
}

func TestDelayedPolicyUpdates(t *testing.T) {
	tests := []struct {
		iterations, freq, want int
	}{
		{5, 2, 3},
		{4, 3, 2},
		{1, 2, 1},
		{6, 1, 6},
	}

	store := filledStore(t, 50, 4)
	for _, test := range tests {
		agent := newTestAgent(t, 4)
		stats, err := agent.TrainStep(store, update(test.iterations, test.freq))
		require.NoError(t, err)
		require.Equal(t, test.iterations, stats.Rounds)
		require.Equal(t, test.want, stats.ActorUpdates,
			"iterations %v, policy frequency %v", test.iterations, test.freq)
		require.NoError(t, agent.Close())
	}
}

func TestRoundGating(t *testing.T) {
	agent := newTestAgent(t, 7)
	defer agent.Close()
	store := filledStore(t, 50, 7)
	u := update(1, 2)

	// A round not divisible by the policy frequency trains only the critic
	actor, actorTarget, critic, criticTarget := agent.Params()
	r, err := agent.round(store.Sample(u.BatchSize), u, 1)
	require.NoError(t, err)
	require.False(t, r.actorUpdated)

	newActor, newActorTarget, newCritic, newCriticTarget := agent.Params()
	require.Zero(t, maxDiff(t, actor, newActor))
	require.Zero(t, maxDiff(t, actorTarget, newActorTarget))
	require.Zero(t, maxDiff(t, criticTarget, newCriticTarget))
	require.NotZero(t, maxDiff(t, critic, newCritic))

	// A divisible round also trains the actor and moves the targets
	r, err = agent.round(store.Sample(u.BatchSize), u, 2)
	require.NoError(t, err)
	require.True(t, r.actorUpdated)

	finalActor, finalActorTarget, finalCritic, finalCriticTarget :=
		agent.Params()
	require.NotZero(t, maxDiff(t, newActor, finalActor))
	require.NotZero(t, maxDiff(t, newActorTarget, finalActorTarget))
	require.NotZero(t, maxDiff(t, newCriticTarget, finalCriticTarget))

	// Targets move towards, but do not reach, the live weights
	require.Less(t, maxDiff(t, finalActor, finalActorTarget),
		maxDiff(t, finalActor, newActorTarget))
	require.NotZero(t, maxDiff(t, finalCritic, finalCriticTarget))
}

func TestPessimisticTarget(t *testing.T) {
	agent := newTestAgent(t, 8)
	defer agent.Close()

	// Make the target critic heads constant at 5 and 1
	for _, p := range agent.criticTarget {
		data := p.Data()
		for i := range data {
			data[i] = 0
		}
	}
	q1Bias, ok := agent.criticTarget.Get(network.Q1 + "out.bias")
	require.True(t, ok)
	q1Bias.Data()[0] = 5
	q2Bias, ok := agent.criticTarget.Get(network.Q2 + "out.bias")
	require.True(t, ok)
	q2Bias.Data()[0] = 1

	store := filledStore(t, 30, 8)
	u := update(1, 2)
	batch := store.Sample(u.BatchSize)
	n, err := agent.netsFor(batch.Len(), u.BatchSize)
	require.NoError(t, err)

	y, minQ, err := agent.bellmanTargets(n, batch, u)
	require.NoError(t, err)
	require.Len(t, y, batch.Len())

	for i := range y {
		require.InDelta(t, 1.0, minQ[i], 1e-12)
		want := batch.Rewards[i] + (1-batch.Terminals[i])*u.Discount*1.0
		require.InDelta(t, want, y[i], 1e-12)
	}
}

func TestBellmanTarget(t *testing.T) {
	rewards := []float64{1, -1, 0.5}
	terminals := []float64{0, 1, 0}
	q := []float64{10, 10, -2}

	y := bellmanTarget(rewards, terminals, q, 0.5)
	require.InDeltaSlice(t, []float64{6, -1, -0.5}, y, 1e-12)
}

func TestSmoothingBounds(t *testing.T) {
	agent := newTestAgent(t, 9)
	defer agent.Close()

	u := update(1, 2)
	u.PolicyNoise = 10
	u.NoiseClip = 0.5

	actions := []float64{0, 0, 0.9, -0.9, 0.2, -0.2}
	orig := append([]float64(nil), actions...)
	agent.smooth(actions, u)
	for i := range actions {
		require.LessOrEqual(t, math.Abs(actions[i]), 1.0)
		require.LessOrEqual(t, math.Abs(actions[i]-orig[i]), 0.5+1e-12)
	}

	u.PolicyNoise = 0
	actions = append([]float64(nil), orig...)
	agent.smooth(actions, u)
	require.Equal(t, orig, actions)
}

func TestTrainStepShortBatches(t *testing.T) {
	agent := newTestAgent(t, 10)
	defer agent.Close()

	// Fewer transitions than the batch size
	store := filledStore(t, 3, 10)
	stats, err := agent.TrainStep(store, update(2, 2))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Rounds)

	store = filledStore(t, 5, 11)
	_, err = agent.TrainStep(store, update(2, 2))
	require.NoError(t, err)

	// Only the most recent short batch size is kept
	require.Len(t, agent.nets, 1)
}

func TestTrainStepStatsAndMetrics(t *testing.T) {
	agent := newTestAgent(t, 12)
	defer agent.Close()
	series := tracker.NewSeries()
	agent.Register(series)

	store := filledStore(t, 40, 12)
	stats, err := agent.TrainStep(store, update(4, 2))
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.MaxQ, stats.AverageQ)
	require.Greater(t, stats.AverageLoss, 0.0)

	_, err = agent.TrainStep(store, update(2, 2))
	require.NoError(t, err)

	loss := series.Get(LossSeries)
	require.Len(t, loss, 2)
	require.Equal(t, 1, loss[0].Step)
	require.Equal(t, 2, loss[1].Step)
	require.Equal(t, stats.AverageLoss, loss[0].Value)
	require.Len(t, series.Get(AverageQSeries), 2)
	require.Len(t, series.Get(MaxQSeries), 2)
}

func TestTrainingChangesPolicy(t *testing.T) {
	agent := newTestAgent(t, 13)
	defer agent.Close()
	state := mat.NewVecDense(testFeatures, []float64{0.1, 0.2, 0.3, 0.4})

	before, err := agent.SelectAction(state)
	require.NoError(t, err)

	store := filledStore(t, 40, 13)
	_, err = agent.TrainStep(store, update(4, 2))
	require.NoError(t, err)

	after, err := agent.SelectAction(state)
	require.NoError(t, err)
	require.False(t, mat.Equal(before, after))
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	agent := newTestAgent(t, 14)
	defer agent.Close()

	store := filledStore(t, 40, 14)
	_, err := agent.TrainStep(store, update(3, 2))
	require.NoError(t, err)
	require.NoError(t, agent.Save("TD3_test", dir))
	require.FileExists(t, filepath.Join(dir, "TD3_test_actor.bin"))
	require.FileExists(t, filepath.Join(dir, "TD3_test_critic.bin"))

	loaded := newTestAgent(t, 15)
	defer loaded.Close()
	require.NoError(t, loaded.Load("TD3_test", dir))

	actor, _, critic, _ := agent.Params()
	lActor, lActorTarget, lCritic, lCriticTarget := loaded.Params()
	require.Zero(t, maxDiff(t, actor, lActor))
	require.Zero(t, maxDiff(t, critic, lCritic))
	require.Zero(t, maxDiff(t, lActor, lActorTarget))
	require.Zero(t, maxDiff(t, lCritic, lCriticTarget))

	state := mat.NewVecDense(testFeatures, []float64{-0.5, 0.5, 0, 1})
	want, err := agent.SelectAction(state)
	require.NoError(t, err)
	got, err := loaded.SelectAction(state)
	require.NoError(t, err)
	require.True(t, mat.EqualApprox(want, got, 1e-12))
}

func TestLoadMissingLeavesAgentUnchanged(t *testing.T) {
	dir := t.TempDir()
	agent := newTestAgent(t, 16)
	defer agent.Close()
	actor, _, critic, _ := agent.Params()

	require.Error(t, agent.Load("missing", dir))

	// Only the actor file exists
	other := newTestAgent(t, 17)
	defer other.Close()
	require.NoError(t, other.Save("partial", dir))
	require.NoError(t, os.Remove(filepath.Join(dir, "partial_critic.bin")))
	require.Error(t, agent.Load("partial", dir))

	newActor, _, newCritic, _ := agent.Params()
	require.Zero(t, maxDiff(t, actor, newActor))
	require.Zero(t, maxDiff(t, critic, newCritic))
}

func TestLoadIncompatible(t *testing.T) {
	dir := t.TempDir()

	c := testConfig(t)
	c.ActorLayers = []int{5}
	small, err := New(testFeatures, testActions, c, 0, zerolog.Nop())
	require.NoError(t, err)
	defer small.Close()
	require.NoError(t, small.Save("small", dir))

	agent := newTestAgent(t, 18)
	defer agent.Close()
	actor, _, _, _ := agent.Params()

	require.Error(t, agent.Load("small", dir))
	newActor, _, _, _ := agent.Params()
	require.Zero(t, maxDiff(t, actor, newActor))
}

func BenchmarkTrainStep(b *testing.B) {
	agent := newTestAgent(b, 0)
	defer agent.Close()
	store := filledStore(b, 1000, 0)
	u := DefaultUpdateConfig(10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := agent.TrainStep(store, u); err != nil {
			b.Fatal(err)
		}
	}
}

// malformedSampler returns batches whose next states are truncated
type malformedSampler struct{}

func (malformedSampler) Len() int { return 8 }

func (malformedSampler) Sample(n int) expreplay.Batch {
	return expreplay.Batch{
		States:     make([]float64, n*testFeatures),
		Actions:    make([]float64, n*testActions),
		Rewards:    make([]float64, n),
		Terminals:  make([]float64, n),
		NextStates: make([]float64, testFeatures),
		StateDim:   testFeatures,
		ActionDim:  testActions,
	}
}

func TestTrainStepRoundError(t *testing.T) {
	agent := newTestAgent(t, 19)
	defer agent.Close()
	actor, _, critic, _ := agent.Params()

	state := mat.NewVecDense(testFeatures, []float64{0.1, -0.2, 0.3, 0})
	before, err := agent.SelectAction(state)
	require.NoError(t, err)

	stats, err := agent.TrainStep(malformedSampler{}, update(2, 2))
	require.Error(t, err)
	require.Zero(t, stats.Rounds)

	newActor, _, newCritic, _ := agent.Params()
	require.Zero(t, maxDiff(t, actor, newActor))
	require.Zero(t, maxDiff(t, critic, newCritic))

	after, err := agent.SelectAction(state)
	require.NoError(t, err)
	require.True(t, mat.Equal(before, after))
}

func TestSaveFailureKeepsPreviousPair(t *testing.T) {
	dir := t.TempDir()
	agent := newTestAgent(t, 20)
	defer agent.Close()

	// The critic cannot replace a directory, so nothing may be replaced
	require.NoError(t, os.Mkdir(filepath.Join(dir, "TD3_test_critic.bin"),
		0o755))
	require.Error(t, agent.Save("TD3_test", dir))
	require.NoFileExists(t, filepath.Join(dir, "TD3_test_actor.bin"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
