// Package arena implements a minimal kinematic stand-in for a mobile
// robot navigating to a goal among obstacles.
//
// The robot is a unicycle in a square arena with circular obstacles. It
// senses the arena with a planar range finder covering the half plane
// in front of it, binned into a fixed number of sectors. The
// observation is
//
//	[bin_1, ..., bin_n, goal distance, goal heading, linear, angular]
//
// where linear and angular are the velocities commanded on the previous
// step. Agent actions lie in [-1, 1]²: the first is mapped to a linear
// velocity of (a0 + 1) / 2 and the second is the angular velocity.
package arena

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/samuelfneumann/td3nav/environment"
	"github.com/samuelfneumann/td3nav/timestep"
	"github.com/samuelfneumann/td3nav/utils/floatutils"
)

// Rewards
const (
	GoalReward      = 100.0
	CollisionReward = -100.0
)

// RobotDim is the number of observation features describing the robot
// and its goal
const RobotDim = 4

// ActionDim is the dimension of agent actions
const ActionDim = 2

// Config describes an arena
type Config struct {
	HalfWidth      float64 // The arena spans [-HalfWidth, HalfWidth]²
	Obstacles      int
	ObstacleRadius float64
	LaserBins      int
	LaserRange     float64
	CollisionDist  float64 // Minimum range reading before colliding
	GoalDist       float64 // Distance at which the goal is reached
	TimeDelta      float64 // Seconds each action is applied for
}

// DefaultConfig returns the default arena Config with 20 range bins
func DefaultConfig() Config {
	return Config{
		HalfWidth:      5.0,
		Obstacles:      4,
		ObstacleRadius: 0.5,
		LaserBins:      20,
		LaserRange:     10.0,
		CollisionDist:  0.35,
		GoalDist:       0.3,
		TimeDelta:      0.1,
	}
}

// Validate checks a Config for errors
func (c Config) Validate() error {
	if c.HalfWidth <= 0 {
		return fmt.Errorf("validate: half width must be positive")
	}
	if c.Obstacles < 0 || c.ObstacleRadius < 0 {
		return fmt.Errorf("validate: obstacle count and radius must be " +
			"non-negative")
	}
	if c.LaserBins <= 0 || c.LaserRange <= 0 {
		return fmt.Errorf("validate: laser must have positive bins and range")
	}
	if c.CollisionDist <= 0 || c.GoalDist <= 0 || c.TimeDelta <= 0 {
		return fmt.Errorf("validate: collision distance, goal distance " +
			"and time delta must be positive")
	}
	return nil
}

// StateDim returns the dimension of observations in an arena described
// by the Config
func (c Config) StateDim() int {
	return c.LaserBins + RobotDim
}

type obstacle struct {
	center r2.Vec
	radius float64
}

// Arena implements the environment.Environment interface
type Arena struct {
	Config

	pose   environment.UniformStarter // x, y, heading
	points environment.UniformStarter // x, y

	position  r2.Vec
	heading   float64
	goal      r2.Vec
	obstacles []obstacle
	linear    float64
	angular   float64
	steps     int
}

// New returns a new Arena. The seed determines the obstacle, start and
// goal positions of every episode.
func New(c Config, seed uint64) (*Arena, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	margin := c.HalfWidth - 0.5
	if margin <= 0 {
		margin = c.HalfWidth / 2
	}
	xy := r1.Interval{Min: -margin, Max: margin}
	heading := r1.Interval{Min: -math.Pi, Max: math.Pi}

	return &Arena{
		Config: c,
		pose: environment.NewUniformStarter(
			[]r1.Interval{xy, xy, heading}, seed),
		points: environment.NewUniformStarter(
			[]r1.Interval{xy, xy}, seed+1),
	}, nil
}

// maxPlacementTries bounds the rejection sampling of start and goal
// positions
const maxPlacementTries = 1000

// Reset implements the environment.Environment interface. Obstacles,
// the robot pose and the goal are placed anew for each episode.
func (a *Arena) Reset() (timestep.TimeStep, error) {
	a.obstacles = a.obstacles[:0]
	for i := 0; i < a.Obstacles; i++ {
		p := a.points.Start()
		a.obstacles = append(a.obstacles, obstacle{
			center: r2.Vec{X: p.AtVec(0), Y: p.AtVec(1)},
			radius: a.ObstacleRadius,
		})
	}

	clearance := 2 * a.CollisionDist
	placed := false
	for i := 0; i < maxPlacementTries; i++ {
		pose := a.pose.Start()
		a.position = r2.Vec{X: pose.AtVec(0), Y: pose.AtVec(1)}
		a.heading = pose.AtVec(2)
		if a.free(a.position, clearance) {
			placed = true
			break
		}
	}
	if !placed {
		return timestep.TimeStep{}, fmt.Errorf("reset: could not place robot")
	}

	placed = false
	for i := 0; i < maxPlacementTries; i++ {
		p := a.points.Start()
		a.goal = r2.Vec{X: p.AtVec(0), Y: p.AtVec(1)}
		if a.free(a.goal, clearance) &&
			r2.Norm(r2.Sub(a.goal, a.position)) > 2*a.GoalDist {
			placed = true
			break
		}
	}
	if !placed {
		return timestep.TimeStep{}, fmt.Errorf("reset: could not place goal")
	}

	a.linear, a.angular = 0, 0
	a.steps = 0

	obs, _ := a.observe()
	return timestep.New(timestep.First, 0, obs, 0), nil
}

// Step implements the environment.Environment interface
func (a *Arena) Step(action mat.Vector) (timestep.TimeStep, bool, error) {
	if action.Len() != ActionDim {
		return timestep.TimeStep{}, false, fmt.Errorf("step: action has %v "+
			"dimensions, want %v", action.Len(), ActionDim)
	}

	a.linear = (floatutils.Clip(action.AtVec(0), -1, 1) + 1) / 2
	a.angular = floatutils.Clip(action.AtVec(1), -1, 1)

	a.heading = wrap(a.heading + a.angular*a.TimeDelta)
	dir := r2.Vec{X: math.Cos(a.heading), Y: math.Sin(a.heading)}
	a.position = r2.Add(a.position, r2.Scale(a.linear*a.TimeDelta, dir))
	a.steps++

	obs, minRange := a.observe()
	collision := minRange < a.CollisionDist
	atGoal := r2.Norm(r2.Sub(a.goal, a.position)) < a.GoalDist

	reward := Reward(atGoal, collision, a.linear, a.angular, minRange)
	done := atGoal || collision

	stepType := timestep.Mid
	if done {
		stepType = timestep.Last
	}
	return timestep.New(stepType, reward, obs, a.steps), done, nil
}

// Reward returns the reward for a step which commanded the given linear
// and angular velocities, ending with minRange as the smallest range
// reading
func Reward(atGoal, collision bool, linear, angular,
	minRange float64) float64 {
	switch {
	case atGoal:
		return GoalReward
	case collision:
		return CollisionReward
	default:
		return linear/2 - math.Abs(angular)/2 - proximity(minRange)/2
	}
}

// proximity penalizes range readings below one meter
func proximity(x float64) float64 {
	if x < 1 {
		return 1 - x
	}
	return 0
}

// observe returns the current observation and smallest range reading
func (a *Arena) observe() (*mat.VecDense, float64) {
	bins := a.scan()
	minRange := math.Inf(1)
	for _, b := range bins {
		minRange = math.Min(minRange, b)
	}

	toGoal := r2.Sub(a.goal, a.position)
	distance := r2.Norm(toGoal)
	theta := wrap(math.Atan2(toGoal.Y, toGoal.X) - a.heading)

	obs := append(bins, distance, theta, a.linear, a.angular)
	return mat.NewVecDense(len(obs), obs), minRange
}

// free returns whether a point lies at least clearance from every
// obstacle and wall
func (a *Arena) free(p r2.Vec, clearance float64) bool {
	if math.Abs(p.X) > a.HalfWidth-clearance ||
		math.Abs(p.Y) > a.HalfWidth-clearance {
		return false
	}
	for _, o := range a.obstacles {
		if r2.Norm(r2.Sub(p, o.center)) < o.radius+clearance {
			return false
		}
	}
	return true
}

// ObservationSpec implements the environment.Environment interface
func (a *Arena) ObservationSpec() environment.Spec {
	n := a.StateDim()
	lower := mat.NewVecDense(n, nil)
	upper := mat.NewVecDense(n, nil)
	for i := 0; i < a.LaserBins; i++ {
		upper.SetVec(i, a.LaserRange)
	}

	diagonal := 2 * math.Sqrt2 * a.HalfWidth
	bounds := []r1.Interval{
		{Min: 0, Max: diagonal},
		{Min: -math.Pi, Max: math.Pi},
		{Min: 0, Max: 1},
		{Min: -1, Max: 1},
	}
	for i, b := range bounds {
		lower.SetVec(a.LaserBins+i, b.Min)
		upper.SetVec(a.LaserBins+i, b.Max)
	}

	return environment.NewSpec(environment.Observation, lower, upper)
}

// ActionSpec implements the environment.Environment interface
func (a *Arena) ActionSpec() environment.Spec {
	lower := mat.NewVecDense(ActionDim, []float64{-1, -1})
	upper := mat.NewVecDense(ActionDim, []float64{1, 1})
	return environment.NewSpec(environment.Action, lower, upper)
}

// wrap wraps an angle to [-π, π]
func wrap(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta < -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}
