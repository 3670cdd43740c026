// Package environment outlines the interfaces and structs needed to
// implement concrete environments which produce observations for a
// replay pool
package environment

import (
	"github.com/samuelfneumann/replaypool/timestep"
	"gonum.org/v1/gonum/mat"
)

// Environment implements a simualted environment. Observations are
// returned as tensors whose first dimension is the channel dimension.
type Environment interface {
	// Reset resets the environment between episodes and returns the
	// first TimeStep of the new episode
	Reset() (timestep.TimeStep, error)

	// Step takes one environmental step given some action. The
	// returned TimeStep holds the reward for the action and the next
	// observation. The returned bool indicates whether the episode
	// has ended.
	Step(action mat.Vector) (timestep.TimeStep, bool, error)

	// CurrentTimeStep returns the most recent TimeStep
	CurrentTimeStep() timestep.TimeStep

	ObservationSpec() Spec
	ActionSpec() Spec
}

// Ender determines when an episode should end
type Ender interface {
	// End returns whether the episode should end at t. If so, it
	// modifies t so that its StepType is timestep.Last.
	End(t *timestep.TimeStep) bool
}
