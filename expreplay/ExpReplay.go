// Package expreplay implements fixed capacity experience replay pools
// for off-policy learning.
//
// A Pool stores transitions (observation, action, reward, terminal) in
// a ring buffer. Only the raw frame of each observation is stored, and
// stacks of consecutive frames are rebuilt when a batch is sampled,
// without ever stacking across an episode boundary. A SingleStatePool
// stores bare observations, optionally subsampled on insertion, and is
// used to estimate the distribution of visited states.
//
// Pools are not safe for concurrent use. A single goroutine should
// own a pool; use a Feeder to ingest episodes from many producers.
package expreplay

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// StateStatistician implements a store of observations which can
// report per-feature statistics over the observations it holds
type StateStatistician interface {
	// Size returns the number of valid samples in the store
	Size() int

	// Capacity returns the maximum number of samples in the store
	Capacity() int

	// MeanStd computes the per-feature mean and standard deviation of
	// the stored observations
	MeanStd() ([]float64, []float64, error)

	// CachedMeanStd is like MeanStd but only recomputes the
	// statistics when the store has changed since the last call
	CachedMeanStd() ([]float64, []float64, error)
}

// Config implements a specific configuration of a transition Pool
type Config struct {
	Capacity         int    `mapstructure:"capacity" json:"capacity"`
	ObservationShape []int  `mapstructure:"observation_shape" json:"observation_shape"`
	ActionDim        int    `mapstructure:"action_dim" json:"action_dim"`
	FrameStack       int    `mapstructure:"frame_stack" json:"frame_stack"`
	Seed             uint64 `mapstructure:"seed" json:"seed"`
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return newError("validate", fmt.Errorf("capacity must be > 0, "+
			"have(%v): %w", c.Capacity, ErrInvalidConfig))
	}
	if c.ActionDim <= 0 {
		return newError("validate", fmt.Errorf("action dimension must be "+
			"> 0, have(%v): %w", c.ActionDim, ErrInvalidConfig))
	}
	if c.FrameStack < 1 {
		return newError("validate", fmt.Errorf("frame stack must be >= 1, "+
			"have(%v): %w", c.FrameStack, ErrInvalidConfig))
	}
	if c.FrameStack >= c.Capacity {
		return newError("validate", fmt.Errorf("frame stack must be < "+
			"capacity %v, have(%v): %w", c.Capacity, c.FrameStack,
			ErrInvalidConfig))
	}
	if _, err := newFrame(c.ObservationShape); err != nil {
		return newError("validate", fmt.Errorf("%v: %w", err,
			ErrInvalidConfig))
	}
	return nil
}

// Create creates and returns the Pool with the specified Config
func (c Config) Create() (*Pool, error) {
	return New(c)
}

// SingleStateConfig implements a specific configuration of a
// SingleStatePool
type SingleStateConfig struct {
	Capacity         int    `mapstructure:"capacity" json:"capacity"`
	ObservationShape []int  `mapstructure:"observation_shape" json:"observation_shape"`
	Seed             uint64 `mapstructure:"seed" json:"seed"`

	// SubsampleFactor is the probability that an observation is
	// retained on insertion
	SubsampleFactor float64 `mapstructure:"subsample_factor" json:"subsample_factor"`

	// FillBeforeSubsampling retains every observation until the pool
	// first becomes full
	FillBeforeSubsampling bool `mapstructure:"fill_before_subsampling" json:"fill_before_subsampling"`
}

// Validate returns an error describing whether or not the
// configuration is valid
func (c SingleStateConfig) Validate() error {
	if c.Capacity <= 0 {
		return newError("validate", fmt.Errorf("capacity must be > 0, "+
			"have(%v): %w", c.Capacity, ErrInvalidConfig))
	}
	if c.SubsampleFactor < 0 || c.SubsampleFactor > 1 {
		return newError("validate", fmt.Errorf("subsample factor must be "+
			"in [0, 1], have(%v): %w", c.SubsampleFactor, ErrInvalidConfig))
	}
	if _, err := newFrame(c.ObservationShape); err != nil {
		return newError("validate", fmt.Errorf("%v: %w", err,
			ErrInvalidConfig))
	}
	return nil
}

// Create creates and returns the SingleStatePool with the specified
// SingleStateConfig
func (c SingleStateConfig) Create() (*SingleStatePool, error) {
	return NewSingleState(c)
}

// Sample is a single transition to be added to a Pool. Reward and
// Terminal describe the outcome of taking Action after Observation.
type Sample struct {
	Observation tensor.Tensor
	Action      mat.Vector
	Reward      float64
	Terminal    bool
}

// Batch is a batch of transitions sampled from a Pool. All fields are
// aligned along their first dimension in draw order.
type Batch struct {
	// Indices are the ring indices of the sampled transitions
	Indices []int

	// Observations holds the frame-stacked observations, with shape
	// (batch, frames * channels, ...)
	Observations *tensor.Dense

	// Actions has one row per transition
	Actions *mat.Dense

	Rewards   []float64
	Terminals []bool

	// NextObservations holds the raw, unstacked frames following each
	// sampled transition, with shape (batch, channels, ...)
	NextObservations *tensor.Dense
}

// Len returns the number of transitions in the batch
func (b Batch) Len() int {
	return len(b.Indices)
}

// StateBatch is a batch of observations sampled from a
// SingleStatePool
type StateBatch struct {
	Indices      []int
	Observations *tensor.Dense
}

// Len returns the number of observations in the batch
func (b StateBatch) Len() int {
	return len(b.Indices)
}
