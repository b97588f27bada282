// Package experiment implements functionality for training and
// evaluating a TD3 agent on a robot navigation environment
package experiment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/td3nav/agent/nonlinear/continuous/td3"
	"github.com/samuelfneumann/td3nav/environment/arena"
	"github.com/samuelfneumann/td3nav/expreplay"
)

// Config represents a configuration of an experiment
type Config struct {
	Seed uint64

	MaxSteps         int // Total environment steps to train for
	EvalFreq         int // Environment steps between evaluations
	MaxEpisodeSteps  int // Training episodes are cut off after this many steps
	EvalEpisodes     int // Episodes averaged over in each evaluation
	EvalEpisodeSteps int // Evaluation episodes are cut off after this many steps

	// Std dev of the Gaussian exploration noise, which decays linearly
	// from ExplorationNoise to ExplorationMin over ExplorationDecaySteps
	// environment steps
	ExplorationNoise      float64
	ExplorationMin        float64
	ExplorationDecaySteps int

	// If set, transitions cut off by MaxEpisodeSteps are stored as
	// non-terminal so that their value is bootstrapped
	BootstrapTimeouts bool

	ModelName       string
	ModelDir        string
	ResultsDir      string
	SaveModel       bool
	LoadModel       bool
	CheckpointEvery int // Evaluation epochs between numbered snapshots, 0 disables

	Agent  td3.Config
	Update td3.UpdateConfig // Iterations is set per episode
	Arena  arena.Config
	Replay expreplay.Config
}

// DefaultConfig returns the Config used to train on robot navigation
func DefaultConfig() Config {
	return Config{
		Seed:                  0,
		MaxSteps:              50_000_000,
		EvalFreq:              5_000,
		MaxEpisodeSteps:       500,
		EvalEpisodes:          10,
		EvalEpisodeSteps:      501,
		ExplorationNoise:      1.0,
		ExplorationMin:        0.1,
		ExplorationDecaySteps: 500_000,
		ModelName:             "TD3_velodyne",
		ModelDir:              "./models",
		ResultsDir:            "./results",
		SaveModel:             true,
		LoadModel:             false,
		Agent:                 td3.DefaultConfig(),
		Update:                td3.DefaultUpdateConfig(0),
		Arena:                 arena.DefaultConfig(),
		Replay:                expreplay.Config{Capacity: 10_000_000},
	}
}

// LoadConfig reads a Config from a JSON file. Fields missing from the
// file keep their default values.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("loadConfig: %w", err)
	}

	c := DefaultConfig()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("loadConfig: could not unmarshal %v: %w",
			filename, err)
	}
	return c, c.Validate()
}

// Validate checks a Config for errors
func (c Config) Validate() error {
	if c.MaxSteps < 0 {
		return fmt.Errorf("validate: max steps must be non-negative")
	}
	if c.EvalFreq <= 0 || c.MaxEpisodeSteps <= 0 {
		return fmt.Errorf("validate: eval frequency and max episode steps " +
			"must be positive")
	}
	if c.EvalEpisodes <= 0 || c.EvalEpisodeSteps <= 0 {
		return fmt.Errorf("validate: evaluation episodes and steps must be " +
			"positive")
	}
	if c.ExplorationNoise < 0 || c.ExplorationMin < 0 {
		return fmt.Errorf("validate: exploration noise must be non-negative")
	}
	if c.ExplorationDecaySteps <= 0 {
		return fmt.Errorf("validate: exploration decay steps must be positive")
	}
	if c.ModelName == "" {
		return fmt.Errorf("validate: model name must be set")
	}
	if c.Replay.Capacity <= 0 {
		return fmt.Errorf("validate: replay capacity must be positive")
	}

	u := c.Update
	u.Iterations = 0
	if err := u.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.Arena.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// EvaluationsFile returns the file evaluations are saved to during
// training
func (c Config) EvaluationsFile() string {
	return filepath.Join(c.ResultsDir, c.ModelName+".bin")
}

// TrainingFile returns the file the agent's training statistics are
// saved to during training
func (c Config) TrainingFile() string {
	return filepath.Join(c.ResultsDir, c.ModelName+"_training.bin")
}
