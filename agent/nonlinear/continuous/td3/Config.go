package td3

import (
	"fmt"

	"github.com/samuelfneumann/td3nav/initwfn"
	"github.com/samuelfneumann/td3nav/solver"
)

// Config implements a configuration of a TD3 agent
type Config struct {
	ActorLayers  []int // Hidden layer widths of the actor
	CriticLayers []int // Hidden layer widths of each critic head
	ActorSolver  *solver.Solver
	CriticSolver *solver.Solver

	// Initialization algorithm for weights. If nil, weights are drawn
	// from a fan-in scaled uniform distribution seeded by the agent
	// seed.
	InitWFn *initwfn.InitWFn

	// Actions are bounded to [-MaxAction, MaxAction]
	MaxAction float64
}

// DefaultConfig returns the Config used for robot navigation: actor
// layers of 800 and 600 units, critic heads of the same widths and Adam
// with a step size of 1e-3 for both networks.
func DefaultConfig() Config {
	actorSolver, err := solver.NewDefaultAdam(1e-3)
	if err != nil {
		panic(fmt.Sprintf("defaultConfig: %v", err))
	}
	criticSolver, err := solver.NewDefaultAdam(1e-3)
	if err != nil {
		panic(fmt.Sprintf("defaultConfig: %v", err))
	}

	return Config{
		ActorLayers:  []int{800, 600},
		CriticLayers: []int{800, 600},
		ActorSolver:  actorSolver,
		CriticSolver: criticSolver,
		MaxAction:    1.0,
	}
}

// Validate checks a Config for errors
func (c Config) Validate() error {
	if len(c.ActorLayers) == 0 {
		return fmt.Errorf("validate: actor must have at least one hidden " +
			"layer")
	}
	if len(c.CriticLayers) != 2 {
		return fmt.Errorf("validate: critic must have exactly two hidden "+
			"layers, got %v", len(c.CriticLayers))
	}
	if c.ActorSolver == nil || c.CriticSolver == nil {
		return fmt.Errorf("validate: both actor and critic solvers must " +
			"be set")
	}
	if c.MaxAction <= 0 {
		return fmt.Errorf("validate: max action must be positive, got %v",
			c.MaxAction)
	}
	return nil
}

// UpdateConfig holds the hyperparameters of a single call to TrainStep
type UpdateConfig struct {
	Iterations  int     // Number of sample-and-update rounds
	BatchSize   int     // Transitions sampled per round
	Discount    float64 // γ
	Tau         float64 // Polyak averaging constant for target networks
	PolicyNoise float64 // Std dev of target policy smoothing noise
	NoiseClip   float64 // Target policy smoothing noise is clipped to ±NoiseClip
	PolicyFreq  int     // The actor is updated on rounds divisible by PolicyFreq
}

// DefaultUpdateConfig returns the update hyperparameters used for robot
// navigation
func DefaultUpdateConfig(iterations int) UpdateConfig {
	return UpdateConfig{
		Iterations:  iterations,
		BatchSize:   40,
		Discount:    0.999999,
		Tau:         0.005,
		PolicyNoise: 0.2,
		NoiseClip:   0.5,
		PolicyFreq:  2,
	}
}

// Validate checks an UpdateConfig for errors
func (u UpdateConfig) Validate() error {
	if u.Iterations < 0 {
		return fmt.Errorf("validate: iterations must be non-negative")
	}
	if u.BatchSize <= 0 {
		return fmt.Errorf("validate: batch size must be positive")
	}
	if u.Discount < 0 || u.Discount > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1]")
	}
	if u.Tau < 0 || u.Tau > 1 {
		return fmt.Errorf("validate: tau must be in [0, 1]")
	}
	if u.PolicyNoise < 0 || u.NoiseClip < 0 {
		return fmt.Errorf("validate: policy noise and noise clip must be " +
			"non-negative")
	}
	if u.PolicyFreq <= 0 {
		return fmt.Errorf("validate: policy frequency must be positive")
	}
	return nil
}
