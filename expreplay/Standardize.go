package expreplay

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

// minStd is the smallest standard deviation used when standardizing,
// so that constant features do not cause a division by zero
const minStd = 1e-8

// Standardize returns a copy of a batch of observations with the
// per-feature mean subtracted and divided by the per-feature standard
// deviation, as returned by MeanStd or CachedMeanStd.
//
// The statistics describe a single frame. Each row of obs may hold
// several stacked frames, in which case every frame in the row is
// standardized using the same statistics.
func Standardize(obs *tensor.Dense, mean, std []float64) (*tensor.Dense,
	error) {
	if len(mean) == 0 || len(mean) != len(std) {
		return nil, fmt.Errorf("standardize: mean and std must have the "+
			"same, non-zero length, have(%v, %v)", len(mean), len(std))
	}
	if obs.Dims() < 2 {
		return nil, fmt.Errorf("standardize: observations must be batched, "+
			"have shape %v", obs.Shape())
	}

	out := obs.Clone().(*tensor.Dense)
	if out.RequiresIterator() {
		out = out.Materialize().(*tensor.Dense)
	}
	data, ok := out.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("standardize: observations must have dtype "+
			"%v, have(%v)", tensor.Float64, out.Dtype())
	}

	rowSize := len(data) / out.Shape()[0]
	if rowSize%len(mean) != 0 {
		return nil, fmt.Errorf("standardize: observation row size %v is not "+
			"a multiple of the frame size %v", rowSize, len(mean))
	}

	scale := make([]float64, len(std))
	for i, s := range std {
		scale[i] = math.Max(s, minStd)
	}

	for start := 0; start < len(data); start += len(mean) {
		f := data[start : start+len(mean)]
		floats.Sub(f, mean)
		floats.Div(f, scale)
	}
	return out, nil
}
