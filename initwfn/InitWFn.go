// Package initwfn implements functionality to wrap Gorgonia InitWFn
// so that they can be JSON serialized into configuraiton files.
package initwfn

import (
	"encoding/json"
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU      Type = "GlorotU"
	Uniform      Type = "Uniform"
	FanInUniform Type = "FanInUniform"
	Zeroes       Type = "Zeroes"
	Constant     Type = "Constant"
)

// decoders decode the Config of each InitWFn Type
var decoders = map[Type]func(json.RawMessage) (Config, error){
	GlorotU:      decode[GlorotUConfig],
	Uniform:      decode[UniformConfig],
	FanInUniform: decode[FanInUniformConfig],
	Zeroes:       decode[ZeroesConfig],
	Constant:     decode[ConstantConfig],
}

// InitWFn wraps Gorgonia InitWFn so that they can be JSON marshalled and
// unmarshalled, as {"Type": ..., "Config": {...}}. The Config may be
// omitted for InitWFn's without hyperparameters.
type InitWFn struct {
	initWFn G.InitWFn
	Type
	Config
}

// newInitWFn returns a new InitWFn
func newInitWFn(c Config) (*InitWFn, error) {
	return &InitWFn{initWFn: c.Create(), Type: c.Type(), Config: c}, nil
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.initWFn
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	var env struct {
		Type   Type
		Config json.RawMessage
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}

	decodeConfig, ok := decoders[env.Type]
	if !ok {
		return fmt.Errorf("unmarshalJSON: unknown InitWFn type %q", env.Type)
	}
	config, err := decodeConfig(env.Config)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %v config: %w", env.Type, err)
	}

	init, err := newInitWFn(config)
	if err != nil {
		return fmt.Errorf("unmarshalJSON: %w", err)
	}
	*i = *init
	return nil
}

// decode decodes a Config of concrete type C. A missing Config decodes
// to the zero C.
func decode[C Config](raw json.RawMessage) (Config, error) {
	var c C
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Config implements a Gorgonia InitWFn configuration and can be used to
// create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes
	Create() G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}
