package initwfn

import G "gorgonia.org/gorgonia"

// ZeroesConfig implements a configuration of a zero weight initializer
type ZeroesConfig struct{}

// NewZeroes returns a new zeroes weight intializer
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(ZeroesConfig{})
}

// Type returns the type of the weight initializer created using this
// config
func (z ZeroesConfig) Type() Type {
	return Zeroes
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (z ZeroesConfig) Create() G.InitWFn {
	return G.Zeroes()
}

// ConstantConfig implements a configuration of a weight initializer
// that initializes all weights to a constant value.
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a new constant weight intializer
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{value})
}

// Type returns the type of the weight initializer created using this
// config
func (c ConstantConfig) Type() Type {
	return Constant
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (c ConstantConfig) Create() G.InitWFn {
	return G.ValuesOf(c.Value)
}
