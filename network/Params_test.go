package network

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
)

var testActorArch = ActorArch{
	Features:  4,
	Actions:   2,
	Hidden:    []int{8, 6},
	MaxAction: 1,
}

var testCriticArch = CriticArch{
	Features: 4,
	Actions:  2,
	Hidden:   []int{8, 6},
}

func newTestActorParams(t *testing.T, init G.InitWFn) Params {
	t.Helper()
	p, err := NewActorParams(testActorArch, init)
	require.NoError(t, err)
	return p
}

func TestActorParamLayout(t *testing.T) {
	p := newTestActorParams(t, G.GlorotU(1.0))

	require.Equal(t, []string{
		"l1.weight", "l1.bias", "l2.weight", "l2.bias", "out.weight",
		"out.bias",
	}, p.Names())

	w, ok := p.Get("l2.weight")
	require.True(t, ok)
	require.Equal(t, []int{8, 6}, []int(w.Value.Shape()))

	b, ok := p.Get("out.bias")
	require.True(t, ok)
	require.Equal(t, []int{1, 2}, []int(b.Value.Shape()))
	require.Equal(t, []float64{0, 0}, b.Data())
}

func TestCriticParamLayout(t *testing.T) {
	p, err := NewCriticParams(testCriticArch, G.GlorotU(1.0))
	require.NoError(t, err)
	require.Len(t, p, 14)
	require.Len(t, p.WithPrefix(Q1), 7)
	require.Len(t, p.WithPrefix(Q2), 7)

	wa, ok := p.Get(Q2 + "l2.action_weight")
	require.True(t, ok)
	require.Equal(t, []int{2, 6}, []int(wa.Value.Shape()))

	_, err = NewCriticParams(CriticArch{Features: 4, Actions: 2,
		Hidden: []int{8}}, G.GlorotU(1.0))
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	p := newTestActorParams(t, G.GlorotU(1.0))
	c := p.Clone()

	c[0].Data()[0] += 1
	diff, err := MaxAbsDiff(p, c)
	require.NoError(t, err)
	require.InDelta(t, 1.0, diff, 1e-12)
}

func TestSet(t *testing.T) {
	dst := newTestActorParams(t, G.Zeroes())
	src := newTestActorParams(t, G.GlorotU(1.0))

	require.NoError(t, Set(dst, src))
	diff, err := MaxAbsDiff(dst, src)
	require.NoError(t, err)
	require.Zero(t, diff)

	other, err := NewCriticParams(testCriticArch, G.Zeroes())
	require.NoError(t, err)
	require.Error(t, Set(dst, other))
}

func TestPolyakConvergesMonotonically(t *testing.T) {
	target := newTestActorParams(t, G.Zeroes())
	live := newTestActorParams(t, G.GlorotU(1.0))
	for i := range live {
		for j := range live[i].Data() {
			live[i].Data()[j] += 0.5
		}
	}

	const tau = 0.1
	last, err := MaxAbsDiff(target, live)
	require.NoError(t, err)
	require.Greater(t, last, 0.0)

	for i := 0; i < 100; i++ {
		require.NoError(t, Polyak(target, live, tau))
		diff, err := MaxAbsDiff(target, live)
		require.NoError(t, err)
		require.Less(t, diff, last)
		require.InDelta(t, (1-tau)*last, diff, 1e-9)
		last = diff
	}
	require.Less(t, last, 1e-4)
}

func TestPolyakBounds(t *testing.T) {
	target := newTestActorParams(t, G.Zeroes())
	live := newTestActorParams(t, G.GlorotU(1.0))

	require.Error(t, Polyak(target, live, 1.5))
	require.Error(t, Polyak(target, live, -0.1))

	require.NoError(t, Polyak(target, live, 1.0))
	diff, err := MaxAbsDiff(target, live)
	require.NoError(t, err)
	require.Zero(t, diff)
}

func TestSaveLoadParams(t *testing.T) {
	p, err := NewCriticParams(testCriticArch, G.GlorotU(1.0))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Save(&buf))

	loaded, err := LoadParams(&buf)
	require.NoError(t, err)
	require.NoError(t, p.Compatible(loaded))

	diff, err := MaxAbsDiff(p, loaded)
	require.NoError(t, err)
	require.Zero(t, diff)
}

func TestLoadParamsGarbage(t *testing.T) {
	_, err := LoadParams(bytes.NewBufferString("not a checkpoint"))
	require.Error(t, err)
}

func TestActorOutputBounded(t *testing.T) {
	arch := testActorArch
	arch.MaxAction = 2.5
	p, err := NewActorParams(arch, G.Uniform(-10, 10))
	require.NoError(t, err)

	const batch = 5
	actor, err := NewActor(arch, p, batch)
	require.NoError(t, err)
	vm := G.NewTapeMachine(actor.Graph())
	defer vm.Close()

	states := make([]float64, batch*arch.Features)
	for i := range states {
		states[i] = float64(i) - 10
	}
	require.NoError(t, actor.SetInput(states))
	require.NoError(t, vm.RunAll())
	vm.Reset()

	out := actor.Output()
	require.Len(t, out, batch*arch.Actions)
	for _, a := range out {
		require.LessOrEqual(t, math.Abs(a), arch.MaxAction)
	}
}

func TestActorSetParams(t *testing.T) {
	p := newTestActorParams(t, G.GlorotU(1.0))
	actor, err := NewActor(testActorArch, p, 1)
	require.NoError(t, err)

	q := newTestActorParams(t, G.GlorotU(1.0))
	require.NoError(t, actor.SetParams(q))

	diff, err := MaxAbsDiff(actor.Params(), q)
	require.NoError(t, err)
	require.Zero(t, diff)

	// The graph holds its own copy of the weights
	q[0].Data()[0] += 1
	diff, err = MaxAbsDiff(actor.Params(), q)
	require.NoError(t, err)
	require.InDelta(t, 1.0, diff, 1e-12)
}

func TestCriticHeadsAgree(t *testing.T) {
	p, err := NewCriticParams(testCriticArch, G.GlorotU(1.0))
	require.NoError(t, err)

	const batch = 3
	states := []float64{
		0.1, 0.2, 0.3, 0.4,
		-1, 0, 1, 2,
		0.5, 0.5, -0.5, -0.5,
	}
	actions := []float64{0.1, -0.1, 1, -1, 0, 0}

	twin, err := NewCritic(testCriticArch, p, batch)
	require.NoError(t, err)
	require.Equal(t, 2, twin.Heads())
	vm := G.NewTapeMachine(twin.Graph())
	defer vm.Close()
	require.NoError(t, twin.SetInput(states, actions))
	require.NoError(t, vm.RunAll())
	q1, q2 := twin.Output()
	vm.Reset()
	require.Len(t, q1, batch)
	require.Len(t, q2, batch)
	require.NotEqual(t, q1, q2)

	// A single headed critic with the same weights computes the same q1
	g := G.NewGraph()
	state := G.NewMatrix(g, G.Float64, G.WithShape(batch, 4),
		G.WithName("state"), G.WithInit(G.Zeroes()))
	action := G.NewMatrix(g, G.Float64, G.WithShape(batch, 2),
		G.WithName("action"), G.WithInit(G.Zeroes()))
	single, err := AddCritic(g, state, action, testCriticArch, p, 1)
	require.NoError(t, err)
	require.Nil(t, single.Q2())
	require.Len(t, single.Learnables(), 7)

	singleVM := G.NewTapeMachine(g)
	defer singleVM.Close()
	require.NoError(t, single.SetInput(states, actions))
	require.NoError(t, singleVM.RunAll())
	singleQ1, singleQ2 := single.Output()
	singleVM.Reset()

	require.Nil(t, singleQ2)
	require.InDeltaSlice(t, q1, singleQ1, 1e-12)
}
