package expreplay

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// windowKey identifies the contents of a pool's valid window. Any
// insertion changes at least one of its fields.
type windowKey struct {
	size   int
	bottom int
	top    int
}

// statsCache memoizes the per-feature mean and standard deviation of
// the observations in a pool's valid window
type statsCache struct {
	computed bool
	key      windowKey
	mean     []float64
	std      []float64
}

// get returns the cached statistics for key, recomputing them with
// compute if the window has changed since the last call
func (s *statsCache) get(key windowKey,
	compute func() ([]float64, []float64)) ([]float64, []float64) {
	if !s.computed || s.key != key {
		s.mean, s.std = compute()
		s.key = key
		s.computed = true
	}

	mean := make([]float64, len(s.mean))
	copy(mean, s.mean)
	std := make([]float64, len(s.std))
	copy(std, s.std)
	return mean, std
}

// meanStd computes the per-feature population mean and standard
// deviation over the frames stored at the ring offsets [0, r.size).
// Each frame in data holds frameSize features.
func meanStd(data []float64, frameSize int, r *ring) ([]float64,
	[]float64) {
	mean := make([]float64, frameSize)
	std := make([]float64, frameSize)
	column := make([]float64, r.size)

	for j := 0; j < frameSize; j++ {
		for i := 0; i < r.size; i++ {
			column[i] = data[r.index(i)*frameSize+j]
		}
		mean[j] = stat.Mean(column, nil)

		// The second central moment carries no degrees of freedom
		// correction, so this is the population standard deviation
		std[j] = math.Sqrt(stat.Moment(2, column, nil))
	}

	return mean, std
}
