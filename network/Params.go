package network

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a single named tensor of learnable weights
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Data returns the backing data of the Param
func (p Param) Data() []float64 {
	return p.Value.Data().([]float64)
}

// Params is an ordered set of named weights which fully determines a
// network. Graphs are bound to a Params to evaluate the network it
// describes.
type Params []Param

// Clone returns a deep copy of the Params
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for i := range p {
		out[i] = Param{
			Name:  p[i].Name,
			Value: p[i].Value.Clone().(*tensor.Dense),
		}
	}
	return out
}

// Names returns the names of each Param in order
func (p Params) Names() []string {
	names := make([]string, len(p))
	for i := range p {
		names[i] = p[i].Name
	}
	return names
}

// WithPrefix returns the Params whose names begin with prefix. The
// returned Params share data with p.
func (p Params) WithPrefix(prefix string) Params {
	var out Params
	for i := range p {
		if strings.HasPrefix(p[i].Name, prefix) {
			out = append(out, p[i])
		}
	}
	return out
}

// Get returns the Param with the given name
func (p Params) Get(name string) (Param, bool) {
	for i := range p {
		if p[i].Name == name {
			return p[i], true
		}
	}
	return Param{}, false
}

// Compatible returns an error if the two Params do not have the same
// names and shapes in the same order
func (p Params) Compatible(other Params) error {
	if len(p) != len(other) {
		return fmt.Errorf("compatible: parameter count mismatch \n\twant(%v)"+
			"\n\thave(%v)", len(p), len(other))
	}
	for i := range p {
		if p[i].Name != other[i].Name {
			return fmt.Errorf("compatible: parameter %v name mismatch "+
				"\n\twant(%v) \n\thave(%v)", i, p[i].Name, other[i].Name)
		}
		if !p[i].Value.Shape().Eq(other[i].Value.Shape()) {
			return fmt.Errorf("compatible: parameter %v shape mismatch "+
				"\n\twant(%v) \n\thave(%v)", p[i].Name, p[i].Value.Shape(),
				other[i].Value.Shape())
		}
	}
	return nil
}

// Set sets the weights of dst to be equal to the weights of src
func Set(dst, src Params) error {
	if err := dst.Compatible(src); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	for i := range dst {
		copy(dst[i].Data(), src[i].Data())
	}
	return nil
}

// Polyak sets the weights of dst to a polyak average of its own
// weights and the weights of src:
//
//	dst ← tau * src + (1 - tau) * dst
func Polyak(dst, src Params, tau float64) error {
	if tau < 0 || tau > 1 {
		return fmt.Errorf("polyak: tau must be in [0, 1], got %v", tau)
	}
	if err := dst.Compatible(src); err != nil {
		return fmt.Errorf("polyak: %w", err)
	}
	for i := range dst {
		d := dst[i].Data()
		floats.Scale(1-tau, d)
		floats.AddScaled(d, tau, src[i].Data())
	}
	return nil
}

// MaxAbsDiff returns the largest absolute difference between any two
// corresponding weights of a and b
func MaxAbsDiff(a, b Params) (float64, error) {
	if err := a.Compatible(b); err != nil {
		return 0, fmt.Errorf("maxAbsDiff: %w", err)
	}
	diff := 0.0
	for i := range a {
		aData, bData := a[i].Data(), b[i].Data()
		for j := range aData {
			diff = math.Max(diff, math.Abs(aData[j]-bData[j]))
		}
	}
	return diff, nil
}

// paramRecord is the serialized form of a Param
type paramRecord struct {
	Name  string
	Shape []int
	Data  []float64
}

// Save writes the Params to w as a sequence of named tensors
func (p Params) Save(w io.Writer) error {
	records := make([]paramRecord, len(p))
	for i := range p {
		records[i] = paramRecord{
			Name:  p[i].Name,
			Shape: []int(p[i].Value.Shape().Clone()),
			Data:  p[i].Data(),
		}
	}

	enc := gob.NewEncoder(w)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("save: could not encode parameters: %w", err)
	}
	return nil
}

// LoadParams reads Params written by Params.Save
func LoadParams(r io.Reader) (Params, error) {
	var records []paramRecord
	dec := gob.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("loadParams: could not decode parameters: %w",
			err)
	}

	p := make(Params, len(records))
	for i, rec := range records {
		size := 1
		for _, dim := range rec.Shape {
			size *= dim
		}
		if size != len(rec.Data) {
			return nil, fmt.Errorf("loadParams: parameter %v has shape %v "+
				"but %v values", rec.Name, rec.Shape, len(rec.Data))
		}
		p[i] = Param{
			Name: rec.Name,
			Value: tensor.New(
				tensor.WithShape(rec.Shape...),
				tensor.WithBacking(rec.Data),
			),
		}
	}
	return p, nil
}

// weight returns a new rows x cols Param initialized with init
func weight(name string, rows, cols int, init G.InitWFn) Param {
	backing := init(tensor.Float64, rows, cols).([]float64)
	return Param{
		Name: name,
		Value: tensor.New(
			tensor.WithShape(rows, cols),
			tensor.WithBacking(backing),
		),
	}
}

// bias returns a new 1 x cols Param of zeroes
func bias(name string, cols int) Param {
	return Param{
		Name: name,
		Value: tensor.New(
			tensor.WithShape(1, cols),
			tensor.WithBacking(make([]float64, cols)),
		),
	}
}
