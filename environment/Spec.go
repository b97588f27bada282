package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action or an observation
type SpecType int

const (
	Action SpecType = iota
	Observation
)

// Spec implements an environment specification, which tells the type,
// size, and bounds of an action or observation in an environment
type Spec struct {
	Type       SpecType
	LowerBound *mat.VecDense
	UpperBound *mat.VecDense
}

// NewSpec constructs a new environment specification. The argument t
// outlines what the specification is describing and the bounds give the
// inclusive range of each dimension.
func NewSpec(t SpecType, lowerBound, upperBound *mat.VecDense) Spec {
	if lowerBound.Len() != upperBound.Len() {
		panic(fmt.Sprintf("lower bounds length %v must match upper bounds "+
			"length %v", lowerBound.Len(), upperBound.Len()))
	}
	return Spec{t, lowerBound, upperBound}
}

// Len returns the dimension of the values that the Spec describes
func (s Spec) Len() int {
	return s.LowerBound.Len()
}

// Contains returns whether v lies within the bounds of the Spec
func (s Spec) Contains(v mat.Vector) bool {
	if v.Len() != s.Len() {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if v.AtVec(i) < s.LowerBound.AtVec(i) ||
			v.AtVec(i) > s.UpperBound.AtVec(i) {
			return false
		}
	}
	return true
}
