// Package experiment implements functionality for collecting
// experience into a replay pool
package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/replaypool/environment/catch"
	"github.com/samuelfneumann/replaypool/expreplay"
)

// Config represents a configuration of an experience collection run.
// Any number of collectors play Catch with a uniform random policy and
// hand their episodes to a shared Feeder, while a learner loop samples
// standardized batches from the pool.
type Config struct {
	// Environment
	Rows     int     `mapstructure:"rows" json:"rows"`
	Cols     int     `mapstructure:"cols" json:"cols"`
	Cutoff   int     `mapstructure:"cutoff" json:"cutoff"`
	Discount float64 `mapstructure:"discount" json:"discount"`

	// Collection
	Collectors        int           `mapstructure:"collectors" json:"collectors"`
	StepsPerCollector uint          `mapstructure:"steps" json:"steps"`
	QueueSize         int           `mapstructure:"queue_size" json:"queue_size"`
	BatchSize         int           `mapstructure:"batch_size" json:"batch_size"`
	LearnEvery        time.Duration `mapstructure:"learn_every" json:"learn_every"`
	Seed              uint64        `mapstructure:"seed" json:"seed"`
	ReturnsDir        string        `mapstructure:"returns_dir" json:"returns_dir"`

	// Pools
	Capacity              int     `mapstructure:"capacity" json:"capacity"`
	FrameStack            int     `mapstructure:"frame_stack" json:"frame_stack"`
	StateCapacity         int     `mapstructure:"state_capacity" json:"state_capacity"`
	SubsampleFactor       float64 `mapstructure:"subsample_factor" json:"subsample_factor"`
	FillBeforeSubsampling bool    `mapstructure:"fill_before_subsampling" json:"fill_before_subsampling"`
}

// Default returns the default Config
func Default() Config {
	return Config{
		Rows:                  10,
		Cols:                  5,
		Discount:              0.99,
		Collectors:            4,
		StepsPerCollector:     5000,
		QueueSize:             16,
		BatchSize:             32,
		LearnEvery:            10 * time.Millisecond,
		Capacity:              10000,
		FrameStack:            4,
		StateCapacity:         1000,
		SubsampleFactor:       0.1,
		FillBeforeSubsampling: true,
	}
}

// Validate returns an error if the Config cannot be run
func (c Config) Validate() error {
	if c.Rows < catch.MinRows || c.Cols < catch.MinCols {
		return fmt.Errorf("validate: screen must be at least %vx%v, "+
			"have(%vx%v)", catch.MinRows, catch.MinCols, c.Rows, c.Cols)
	}
	if c.Collectors < 1 {
		return fmt.Errorf("validate: need at least one collector, have(%v)",
			c.Collectors)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive, have(%v)",
			c.BatchSize)
	}
	if c.LearnEvery <= 0 {
		return fmt.Errorf("validate: learn interval must be positive, "+
			"have(%v)", c.LearnEvery)
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if err := c.StateConfig().Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

// PoolConfig returns the configuration of the transition pool. Only
// the newest frame of each stacked Catch observation is stored.
func (c Config) PoolConfig() expreplay.Config {
	return expreplay.Config{
		Capacity:         c.Capacity,
		ObservationShape: []int{1, c.Rows, c.Cols},
		ActionDim:        1,
		FrameStack:       c.FrameStack,
		Seed:             c.Seed,
	}
}

// StateConfig returns the configuration of the single state pool
func (c Config) StateConfig() expreplay.SingleStateConfig {
	return expreplay.SingleStateConfig{
		Capacity:              c.StateCapacity,
		ObservationShape:      []int{1, c.Rows, c.Cols},
		Seed:                  c.Seed + 1,
		SubsampleFactor:       c.SubsampleFactor,
		FillBeforeSubsampling: c.FillBeforeSubsampling,
	}
}

// TotalSteps returns the number of environment steps taken over all
// collectors
func (c Config) TotalSteps() int {
	return c.Collectors * int(c.StepsPerCollector)
}
