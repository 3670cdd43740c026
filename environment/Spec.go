package environment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an acion or an observation.
type SpecType int

const (
	Action SpecType = iota
	Observation
)

func (s SpecType) String() string {
	if s == Action {
		return "Action"
	}
	return "Observation"
}

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action or an observation in an environment.
//
// Shape is the tensor shape of the data. The bounds hold a single
// lower and upper bound per element for actions, and a single bound
// shared by every element for observations.
type Spec struct {
	Shape      []int
	Type       SpecType
	LowerBound *mat.VecDense
	UpperBound *mat.VecDense
	Cardinality
}

// NewSpec constructs a new environment specification.
// The shape argument outlines the shape of the data described by the
// specification. The argument t outlines what the specification is
// describing (e.g. actions or observations). The cardinality
// arguments describes whether the values that the spec describes are
// continuous or discrete.
func NewSpec(shape []int, t SpecType, lowerBound,
	upperBound *mat.VecDense, cardinality Cardinality) Spec {
	if lowerBound.Len() != upperBound.Len() {
		panic(fmt.Sprintf("lower bounds length %v must match upper bounds "+
			"length %v", lowerBound.Len(), upperBound.Len()))
	}
	s := make([]int, len(shape))
	copy(s, shape)

	return Spec{s, t, lowerBound, upperBound, cardinality}
}

// Size returns the number of elements described by the Spec
func (s Spec) Size() int {
	size := 1
	for _, dim := range s.Shape {
		size *= dim
	}
	return size
}
