package solver

import G "gorgonia.org/gorgonia"

// VanillaConfig describes a configuration of the vanilla gradient
// descent solver.
type VanillaConfig struct {
	StepSize float64
	Batch    int
	Clip     float64 // <= 0 if no clipping
}

// NewVanilla returns a new Vanilla Solver
func NewVanilla(stepSize float64, batchSize int,
	clip float64) (*Solver, error) {
	vanilla := VanillaConfig{
		StepSize: stepSize,
		Batch:    batchSize,
		Clip:     clip,
	}

	return newSolver(Vanilla, vanilla)
}

// Create returns a Gorgonia Vanilla Solver as described by the
// VanillaConfig
func (v VanillaConfig) Create() G.Solver {
	opts := []G.SolverOpt{
		G.WithLearnRate(v.StepSize),
		G.WithBatchSize(float64(batch(v.Batch))),
	}
	if v.Clip > 0 {
		opts = append(opts, G.WithClip(v.Clip))
	}
	return G.NewVanillaSolver(opts...)
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (v VanillaConfig) ValidType(t Type) bool {
	return t == Vanilla
}
