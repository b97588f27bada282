package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samuelfneumann/td3nav/agent/nonlinear/continuous/td3"
	"github.com/samuelfneumann/td3nav/experiment"
	"github.com/samuelfneumann/td3nav/experiment/tracker"
)

var (
	configFile string
	seed       int64
	steps      int
	logLevel   string
)

// RootCommand returns the td3nav command with its train, evaluate and
// plot subcommands
func RootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "td3nav",
		Short:        "Train a TD3 agent to navigate a robot among obstacles",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"JSON experiment configuration, defaults are used if empty")
	cmd.PersistentFlags().Int64Var(&seed, "seed", -1,
		"Seed overriding the configuration, ignored if negative")
	cmd.PersistentFlags().IntVar(&steps, "steps", 0,
		"Total training steps overriding the configuration, ignored if 0")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")

	cmd.AddCommand(TrainCommand())
	cmd.AddCommand(EvaluateCommand())
	cmd.AddCommand(PlotCommand())
	return cmd
}

// TrainCommand returns the command which trains an agent
func TrainCommand() *cobra.Command {
	var progress bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent, evaluating and saving it periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			trainer, logger, err := setup()
			if err != nil {
				return err
			}
			defer trainer.Close()
			trainer.ShowProgress(progress)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			start := time.Now()
			if err := trainer.Run(ctx); err != nil {
				return err
			}
			logger.Info().Dur("elapsed", time.Since(start)).Msg("done")
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false,
		"Print a progress bar over training steps")
	return cmd
}

// EvaluateCommand returns the command which evaluates a saved agent
func EvaluateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a saved agent without exploration",
		RunE: func(cmd *cobra.Command, args []string) error {
			trainer, _, err := setup(func(c *experiment.Config) {
				c.LoadModel = false
			})
			if err != nil {
				return err
			}
			defer trainer.Close()

			reward, collisions, err := evaluateSaved(trainer)
			if err != nil {
				return err
			}
			fmt.Printf("Average Reward over %v Evaluation Episodes: %.6f, "+
				"%.6f collisions\n", trainer.EvalEpisodes, reward, collisions)
			return nil
		},
	}
}

// evaluateSaved loads the trainer's saved model and evaluates it. Unlike
// training, a missing or incompatible model is an error.
func evaluateSaved(trainer *experiment.Trainer) (reward, collisions float64,
	err error) {
	if err := trainer.Agent().Load(trainer.ModelName,
		trainer.ModelDir); err != nil {
		return 0, 0, fmt.Errorf("evaluate: %w", err)
	}
	return trainer.Evaluate(0)
}

// PlotCommand returns the command which plots saved evaluations or
// training statistics
func PlotCommand() *cobra.Command {
	var output string
	var training bool

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Plot the evaluations or training statistics saved during training",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config()
			if err != nil {
				return err
			}

			file, series := plotSource(c, training)
			s, err := tracker.LoadSeries(file)
			if err != nil {
				return err
			}
			return tracker.Plot(s, c.ModelName, output, series...)
		},
	}
	cmd.Flags().StringVar(&output, "output", "evaluations.png",
		"File to save the plot to")
	cmd.Flags().BoolVar(&training, "training", false,
		"Plot the training loss and Q values instead of evaluations")
	return cmd
}

// plotSource returns the saved series file and the series within it to
// plot
func plotSource(c experiment.Config, training bool) (string, []string) {
	if training {
		return c.TrainingFile(), []string{td3.LossSeries,
			td3.AverageQSeries, td3.MaxQSeries}
	}
	return c.EvaluationsFile(), []string{experiment.AverageRewardSeries}
}

// config returns the experiment configuration with command line
// overrides applied
func config() (experiment.Config, error) {
	c := experiment.DefaultConfig()
	if configFile != "" {
		var err error
		if c, err = experiment.LoadConfig(configFile); err != nil {
			return experiment.Config{}, err
		}
	}

	if seed >= 0 {
		c.Seed = uint64(seed)
	}
	if steps > 0 {
		c.MaxSteps = steps
	}
	return c, nil
}

// setup creates the logger and a Trainer on the arena
func setup(opts ...func(*experiment.Config)) (*experiment.Trainer,
	zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("setup: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	c, err := config()
	if err != nil {
		return nil, logger, err
	}
	for _, opt := range opts {
		opt(&c)
	}

	trainer, err := experiment.New(c, logger)
	if err != nil {
		return nil, logger, err
	}
	return trainer, logger, nil
}
