package expreplay

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// SingleStatePool implements a fixed capacity pool of observations.
// No transitions are stored, so observations may be dropped at random
// on insertion without invalidating anything. This makes it possible
// to subsample long streams of states, e.g. to estimate statistics of
// the state distribution.
type SingleStatePool struct {
	ring
	frame frame

	subsampleFactor       float64
	fillBeforeSubsampling bool

	observations []float64

	rng     *rand.Rand
	uniform distuv.Uniform
	stats   statsCache
}

// NewSingleState creates and returns a new SingleStatePool
func NewSingleState(c SingleStateConfig) (*SingleStatePool, error) {
	if err := c.Validate(); err != nil {
		return nil, newError("newSingleState", err)
	}
	f, _ := newFrame(c.ObservationShape)

	rng := rand.New(rand.NewSource(c.Seed))

	return &SingleStatePool{
		ring:  newRing(c.Capacity),
		frame: f,

		subsampleFactor:       c.SubsampleFactor,
		fillBeforeSubsampling: c.FillBeforeSubsampling,

		observations: make([]float64, c.Capacity*f.size),

		rng:     rng,
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: rng},
	}, nil
}

// Size returns the number of observations in the pool
func (s *SingleStatePool) Size() int {
	return s.size
}

// Capacity returns the maximum number of observations in the pool
func (s *SingleStatePool) Capacity() int {
	return s.capacity
}

// ObservationShape returns the shape of a single stored observation
func (s *SingleStatePool) ObservationShape() []int {
	return s.frame.shape.Clone()
}

// Validate checks whether an observation could be added to the pool.
// It does not read or modify the pool's contents.
func (s *SingleStatePool) Validate(observation tensor.Tensor) error {
	if _, err := s.frame.trailing(observation); err != nil {
		return newError("validate", err)
	}
	return nil
}

// AddSample offers an observation to the pool and returns whether it
// was stored. The observation is retained with probability equal to
// the pool's subsample factor, or unconditionally while the pool is
// filling up if the pool was configured to fill before subsampling.
// Dropped observations are not an error.
func (s *SingleStatePool) AddSample(observation tensor.Tensor) (bool,
	error) {
	obs, err := s.frame.trailing(observation)
	if err != nil {
		return false, newError("addSample", err)
	}

	u := s.uniform.Rand()
	fillAnyway := s.fillBeforeSubsampling && !s.full()
	if u >= s.subsampleFactor && !fillAnyway {
		return false, nil
	}

	ind := s.top * s.frame.size
	copy(s.observations[ind:ind+s.frame.size], obs)
	s.advance()
	return true, nil
}

// RandomBatch samples batchSize observations uniformly, with
// replacement, from the pool. An error satisfying IsInsufficientData
// is returned if the pool does not hold more than batchSize
// observations.
func (s *SingleStatePool) RandomBatch(batchSize int) (StateBatch, error) {
	if batchSize <= 0 {
		return StateBatch{}, newError("randomBatch", ErrInvalidBatchSize)
	}
	if s.size <= batchSize {
		return StateBatch{}, newError("randomBatch", fmt.Errorf("have %v "+
			"samples, need more than %v: %w", s.size, batchSize,
			ErrInsufficientData))
	}

	size := s.frame.size
	indices := make([]int, batchSize)
	obs := make([]float64, batchSize*size)
	for i := range indices {
		index := s.index(s.rng.Intn(s.size))
		indices[i] = index
		copy(obs[i*size:(i+1)*size], s.observations[index*size:(index+1)*size])
	}

	return StateBatch{
		Indices: indices,
		Observations: tensor.New(
			tensor.WithShape(s.frame.batchShape(batchSize, 1)...),
			tensor.WithBacking(obs),
		),
	}, nil
}

// MeanStd computes the per-feature mean and standard deviation of the
// stored observations. Statistics are recomputed on every call.
func (s *SingleStatePool) MeanStd() ([]float64, []float64, error) {
	if s.size == 0 {
		return nil, nil, newError("meanStd", ErrInsufficientData)
	}
	mean, std := meanStd(s.observations, s.frame.size, &s.ring)
	return mean, std, nil
}

// CachedMeanStd returns the per-feature mean and standard deviation of
// the stored observations, recomputing them only if observations were
// stored since the last call.
func (s *SingleStatePool) CachedMeanStd() ([]float64, []float64, error) {
	if s.size == 0 {
		return nil, nil, newError("cachedMeanStd", ErrInsufficientData)
	}

	key := windowKey{size: s.size, bottom: s.bottom, top: s.top}
	mean, std := s.stats.get(key, func() ([]float64, []float64) {
		return meanStd(s.observations, s.frame.size, &s.ring)
	})
	return mean, std, nil
}

// String returns the string representation of the pool
func (s *SingleStatePool) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capacity: %v \nSize: %v \nBottom: %v \nTop: %v \n",
		s.capacity, s.size, s.bottom, s.top)
	fmt.Fprintf(&b, "Subsample Factor: %v \nFill Before Subsampling: %v \n",
		s.subsampleFactor, s.fillBeforeSubsampling)
	fmt.Fprintf(&b, "Observations: %v", s.observations)
	return b.String()
}
