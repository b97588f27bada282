package experiment

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/progressbar"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/td3nav/agent/nonlinear/continuous/td3"
	"github.com/samuelfneumann/td3nav/environment"
	"github.com/samuelfneumann/td3nav/environment/arena"
	"github.com/samuelfneumann/td3nav/experiment/checkpointer"
	"github.com/samuelfneumann/td3nav/experiment/tracker"
	"github.com/samuelfneumann/td3nav/expreplay"
	"github.com/samuelfneumann/td3nav/timestep"
	"github.com/samuelfneumann/td3nav/utils/floatutils"
)

// CollisionThreshold is the reward below which an evaluation step is
// counted as a collision
const CollisionThreshold = -90.0

// Names of the evaluation series
const (
	AverageRewardSeries     = "Average_Reward"
	AverageCollisionsSeries = "Average_Collisions"
)

// Trainer trains a TD3 agent online in an environment, periodically
// evaluating and saving it
type Trainer struct {
	Config

	env   environment.Environment
	agent *td3.TD3
	store *expreplay.Store
	limit environment.StepLimit

	evaluations *tracker.Series
	training    *tracker.Series
	checkpoint  checkpointer.Checkpointer
	noise       distuv.Normal
	progress    bool
	logger      zerolog.Logger

	timestep           int
	timestepsSinceEval int
	episodes           int
	epoch              int
	exploration        float64
}

// New returns a new Trainer on an arena described by c.Arena
func New(c Config, logger zerolog.Logger) (*Trainer, error) {
	env, err := arena.New(c.Arena, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	return NewWithEnvironment(c, env, logger)
}

// NewWithEnvironment returns a new Trainer on env. The dimensions of
// the agent and replay buffer are taken from the specs of env.
func NewWithEnvironment(c Config, env environment.Environment,
	logger zerolog.Logger) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	features := env.ObservationSpec().Len()
	actions := env.ActionSpec().Len()

	agent, err := td3.New(features, actions, c.Agent, c.Seed, logger)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	store, err := c.Replay.Create(features, actions, c.Seed)
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("new: %w", err)
	}

	t := &Trainer{
		Config:      c,
		env:         env,
		agent:       agent,
		store:       store,
		limit:       environment.NewStepLimit(c.MaxEpisodeSteps),
		evaluations: tracker.NewSeries(),
		training:    tracker.NewSeries(),
		noise: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewSource(c.Seed + 2),
		},
		exploration: c.ExplorationNoise,
		logger:      logger.With().Str("component", "trainer").Logger(),
	}
	t.checkpoint = checkpointer.NewNStep(c.CheckpointEvery, c.ModelDir, agent,
		checkpointer.FilenameEnumerator(0, c.ModelName, "_"))
	agent.Register(tracker.Multi{t.training, tracker.NewLogger(logger)})

	if c.LoadModel {
		if err := agent.Load(c.ModelName, c.ModelDir); err != nil {
			t.logger.Warn().Err(err).
				Msg("could not load the stored model parameters, " +
					"initializing training with random parameters")
		} else {
			t.logger.Info().Str("model", c.ModelName).Msg("loaded model")
		}
	}

	return t, nil
}

// ShowProgress sets whether a progress bar over training steps is
// printed to the terminal during Run
func (t *Trainer) ShowProgress(show bool) {
	t.progress = show
}

// Agent returns the agent being trained
func (t *Trainer) Agent() *td3.TD3 {
	return t.agent
}

// Evaluations returns the evaluation results tracked so far, keyed by
// epoch
func (t *Trainer) Evaluations() *tracker.Series {
	return t.evaluations
}

// Training returns the training statistics emitted by the agent
func (t *Trainer) Training() *tracker.Series {
	return t.training
}

// Timesteps returns the number of environment steps taken so far
func (t *Trainer) Timesteps() int {
	return t.timestep
}

// Epoch returns the number of evaluations run during training so far
func (t *Trainer) Epoch() int {
	return t.epoch
}

// Exploration returns the current std dev of the exploration noise
func (t *Trainer) Exploration() float64 {
	return t.exploration
}

// Close releases the resources held by the agent
func (t *Trainer) Close() error {
	return t.agent.Close()
}

// Run trains the agent for MaxSteps environment steps. The agent is
// trained at the end of every episode for as many iterations as the
// episode had steps. Every EvalFreq steps, at the next episode
// boundary, the agent is evaluated and saved. A final evaluation is
// run when training completes.
func (t *Trainer) Run(ctx context.Context) error {
	increment := func() {}
	if t.progress {
		bar := progressbar.New(50, t.MaxSteps, time.Second, true)
		bar.Display()
		defer bar.Close()
		increment = bar.Increment
	}
	return t.run(ctx, increment)
}

func (t *Trainer) run(ctx context.Context, increment func()) error {
	t.logger.Info().Int("max_steps", t.MaxSteps).Int("eval_freq", t.EvalFreq).
		Msg("starting training")

	var (
		step          timestep.TimeStep
		done          = true
		episodeSteps  int
		episodeReward float64
		err           error
	)
	decay := (t.ExplorationNoise - t.ExplorationMin) /
		float64(t.ExplorationDecaySteps)

	for t.timestep < t.MaxSteps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("run: %w", ctx.Err())
		default:
		}

		if done {
			if t.timestep != 0 {
				if err := t.endEpisode(episodeSteps, episodeReward); err != nil {
					return fmt.Errorf("run: %w", err)
				}
			}

			if t.timestepsSinceEval >= t.EvalFreq {
				t.timestepsSinceEval %= t.EvalFreq
				if err := t.evaluateAndSave(); err != nil {
					return fmt.Errorf("run: %w", err)
				}
				t.epoch++
				if err := t.checkpoint.Checkpoint(t.epoch); err != nil {
					return fmt.Errorf("run: %w", err)
				}
			}

			if step, err = t.env.Reset(); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			done = false
			episodeReward = 0
			episodeSteps = 0
			t.episodes++
		}

		t.exploration = floatutils.Decay(t.exploration, decay, t.ExplorationMin)

		action, err := t.explore(step.Observation)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		next, envDone, err := t.env.Step(action)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		next.Number = episodeSteps + 1

		// Episodes cut off by the step limit always end, but are only
		// terminal for bootstrapping if timeouts are not bootstrapped
		terminal := envDone
		if t.limit.End(&next) {
			done = true
			terminal = !t.BootstrapTimeouts || envDone
		}
		done = done || envDone

		transition := timestep.NewTransition(step, action, next, terminal)
		if err := t.store.Add(transition); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		episodeReward += next.Reward
		step = next
		episodeSteps++
		t.timestep++
		t.timestepsSinceEval++
		increment()
	}

	if err := t.evaluateAndSave(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	t.logger.Info().Int("episodes", t.episodes).Int("epochs", t.epoch).
		Msg("training complete")
	return nil
}

// endEpisode trains the agent once an episode has finished
func (t *Trainer) endEpisode(episodeSteps int, episodeReward float64) error {
	u := t.Update
	u.Iterations = episodeSteps

	stats, err := t.agent.TrainStep(t.store, u)
	if err != nil {
		return fmt.Errorf("endEpisode: %w", err)
	}

	t.logger.Debug().
		Int("episode", t.episodes).
		Int("steps", episodeSteps).
		Float64("return", episodeReward).
		Float64("exploration", t.exploration).
		Float64("loss", stats.AverageLoss).
		Float64("average_q", stats.AverageQ).
		Float64("max_q", stats.MaxQ).
		Msg("episode finished")
	return nil
}

// explore returns the action of the agent in state perturbed by
// Gaussian exploration noise and clipped to the action bounds
func (t *Trainer) explore(state mat.Vector) (*mat.VecDense, error) {
	action, err := t.agent.SelectAction(state)
	if err != nil {
		return nil, fmt.Errorf("explore: %w", err)
	}

	max := t.Config.Agent.MaxAction
	for i := 0; i < action.Len(); i++ {
		a := action.AtVec(i) + t.exploration*t.noise.Rand()
		action.SetVec(i, floatutils.Clip(a, -max, max))
	}
	return action, nil
}

// evaluateAndSave evaluates the agent, saves it if SaveModel is set,
// and persists all evaluations and training statistics so far
func (t *Trainer) evaluateAndSave() error {
	if _, _, err := t.Evaluate(t.epoch); err != nil {
		return err
	}

	if t.SaveModel {
		if err := t.agent.Save(t.ModelName, t.ModelDir); err != nil {
			return fmt.Errorf("evaluateAndSave: %w", err)
		}
	}

	if err := os.MkdirAll(t.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("evaluateAndSave: %w", err)
	}
	if err := t.evaluations.Save(t.EvaluationsFile()); err != nil {
		return fmt.Errorf("evaluateAndSave: %w", err)
	}
	if err := t.training.Save(t.TrainingFile()); err != nil {
		return fmt.Errorf("evaluateAndSave: %w", err)
	}
	return nil
}

// EvaluationsFile returns the file that evaluations are saved to
func (t *Trainer) EvaluationsFile() string {
	return t.Config.EvaluationsFile()
}

// TrainingFile returns the file that training statistics are saved to
func (t *Trainer) TrainingFile() string {
	return t.Config.TrainingFile()
}

// Evaluate runs EvalEpisodes episodes without exploration noise, each
// for at most EvalEpisodeSteps steps. It returns the average return
// per episode and the average number of collisions per episode, and
// tracks both under epoch.
func (t *Trainer) Evaluate(epoch int) (avgReward, avgCollisions float64,
	err error) {
	t.logger.Info().Int("epoch", epoch).Msg("validating")

	for ep := 0; ep < t.EvalEpisodes; ep++ {
		step, err := t.env.Reset()
		if err != nil {
			return 0, 0, fmt.Errorf("evaluate: %w", err)
		}

		done := false
		for count := 0; !done && count < t.EvalEpisodeSteps; count++ {
			action, err := t.agent.SelectAction(step.Observation)
			if err != nil {
				return 0, 0, fmt.Errorf("evaluate: %w", err)
			}

			if step, done, err = t.env.Step(action); err != nil {
				return 0, 0, fmt.Errorf("evaluate: %w", err)
			}
			avgReward += step.Reward
			if step.Reward < CollisionThreshold {
				avgCollisions++
			}
		}
	}

	avgReward /= float64(t.EvalEpisodes)
	avgCollisions /= float64(t.EvalEpisodes)

	t.evaluations.Add(AverageRewardSeries, epoch, avgReward)
	t.evaluations.Add(AverageCollisionsSeries, epoch, avgCollisions)
	t.logger.Info().
		Int("epoch", epoch).
		Int("episodes", t.EvalEpisodes).
		Float64("average_reward", avgReward).
		Float64("average_collisions", avgCollisions).
		Msg("evaluation")

	return avgReward, avgCollisions, nil
}
