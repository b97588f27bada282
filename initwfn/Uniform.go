package initwfn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// UniformConfig implements a configuration of a weight initializer that
// draws weights from a fixed uniform distribution
type UniformConfig struct {
	Low, High float64
}

// NewUniform returns a new uniform weight initializer
func NewUniform(low, high float64) (*InitWFn, error) {
	if low >= high {
		return nil, fmt.Errorf("newUniform: low (%v) must be below high (%v)",
			low, high)
	}
	return newInitWFn(UniformConfig{Low: low, High: high})
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (u UniformConfig) Type() Type {
	return Uniform
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (u UniformConfig) Create() G.InitWFn {
	return G.Uniform(u.Low, u.High)
}

// FanInUniformConfig implements a configuration of a seeded weight
// initializer drawing each weight of an (in, out) weight matrix from
// U(-1/√in, 1/√in).
type FanInUniformConfig struct {
	Seed uint64
}

// NewFanInUniform returns a new fan-in scaled uniform weight
// initializer. All weights drawn from the returned initializer come from
// a single random stream determined by seed.
func NewFanInUniform(seed uint64) (*InitWFn, error) {
	return newInitWFn(FanInUniformConfig{Seed: seed})
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (f FanInUniformConfig) Type() Type {
	return FanInUniform
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (f FanInUniformConfig) Create() G.InitWFn {
	src := rand.NewSource(f.Seed)

	return func(dt tensor.Dtype, s ...int) interface{} {
		if len(s) == 0 || s[0] <= 0 {
			panic(fmt.Sprintf("fanInUniform: illegal shape %v", s))
		}
		bound := 1 / math.Sqrt(float64(s[0]))
		dist := distuv.Uniform{Min: -bound, Max: bound, Src: src}
		size := tensor.Shape(s).TotalSize()

		switch dt {
		case tensor.Float64:
			weights := make([]float64, size)
			for i := range weights {
				weights[i] = dist.Rand()
			}
			return weights

		case tensor.Float32:
			weights := make([]float32, size)
			for i := range weights {
				weights[i] = float32(dist.Rand())
			}
			return weights

		default:
			panic(fmt.Sprintf("fanInUniform: dtype %v not supported", dt))
		}
	}
}
