package initwfn

import G "gorgonia.org/gorgonia"

// GlorotUConfig implements a configuration of the Glorot Uniform
// initialization algorithm.
type GlorotUConfig struct {
	Gain float64
}

// NewGlorotU returns a new Glorot Uniform weight initializer
func NewGlorotU(gain float64) (*InitWFn, error) {
	return newInitWFn(GlorotUConfig{Gain: gain})
}

// Type returns the type of initialization algorithm described by
// the configuration.
func (g GlorotUConfig) Type() Type {
	return GlorotU
}

// Create returns the weight initialization algorithm as a Gorgonia
// InitWFn
func (g GlorotUConfig) Create() G.InitWFn {
	return G.GlorotU(g.Gain)
}
