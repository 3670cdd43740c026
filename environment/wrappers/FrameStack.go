// Package wrappers implements environment wrappers which modify the
// observations of an embedded environment
package wrappers

import (
	"fmt"

	env "github.com/samuelfneumann/replaypool/environment"
	ts "github.com/samuelfneumann/replaypool/timestep"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// FrameStack concatenates the most recent frames of an environment
// along the channel axis. With k frames, an environment producing
// (C, ...) observations is wrapped into one producing (k*C, ...)
// observations, oldest frame first. At the start of an episode the
// missing history is filled with copies of the first frame.
type FrameStack struct {
	env.Environment
	frames int

	frameSize int
	history   []float64 // The last frames frames, oldest first

	currentTimeStep ts.TimeStep
}

// NewFrameStack returns a new FrameStack environment wrapper, stacking
// frames observations together
func NewFrameStack(e env.Environment, frames int) (*FrameStack, ts.TimeStep,
	error) {
	if frames < 1 {
		return nil, ts.TimeStep{}, fmt.Errorf("newFrameStack: frames must "+
			"be >= 1, have(%v)", frames)
	}
	spec := e.ObservationSpec()
	if len(spec.Shape) == 0 {
		return nil, ts.TimeStep{}, fmt.Errorf("newFrameStack: observations " +
			"must have a channel dimension")
	}

	f := &FrameStack{
		Environment: e,
		frames:      frames,
		frameSize:   spec.Size(),
		history:     make([]float64, frames*spec.Size()),
	}

	step, err := f.Reset()
	if err != nil {
		return nil, ts.TimeStep{}, err
	}
	return f, step, nil
}

// Reset resets the environment to some starting state
func (f *FrameStack) Reset() (ts.TimeStep, error) {
	step, err := f.Environment.Reset()
	if err != nil {
		return ts.TimeStep{}, err
	}

	frame, err := f.frame(step.Observation)
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %v", err)
	}
	for i := 0; i < f.frames; i++ {
		copy(f.history[i*f.frameSize:(i+1)*f.frameSize], frame)
	}

	step.Observation = f.observation()
	f.currentTimeStep = step
	return step, nil
}

// Step takes one environmental step given some action
func (f *FrameStack) Step(action mat.Vector) (ts.TimeStep, bool, error) {
	step, last, err := f.Environment.Step(action)
	if err != nil {
		return ts.TimeStep{}, true, err
	}

	frame, err := f.frame(step.Observation)
	if err != nil {
		return ts.TimeStep{}, true, fmt.Errorf("step: %v", err)
	}
	copy(f.history, f.history[f.frameSize:])
	copy(f.history[len(f.history)-f.frameSize:], frame)

	step.Observation = f.observation()
	f.currentTimeStep = step
	return step, last, nil
}

// CurrentTimeStep returns the current time step in the environment
func (f *FrameStack) CurrentTimeStep() ts.TimeStep {
	return f.currentTimeStep
}

// ObservationSpec returns the observation specification of the
// stacked observations
func (f *FrameStack) ObservationSpec() env.Spec {
	spec := f.Environment.ObservationSpec()
	shape := make([]int, len(spec.Shape))
	copy(shape, spec.Shape)
	shape[0] *= f.frames

	return env.NewSpec(shape, spec.Type, spec.LowerBound, spec.UpperBound,
		spec.Cardinality)
}

// Frames returns the number of stacked frames
func (f *FrameStack) Frames() int {
	return f.frames
}

// frame returns the raw data of a single observation
func (f *FrameStack) frame(obs *tensor.Dense) ([]float64, error) {
	if obs == nil {
		return nil, fmt.Errorf("nil observation")
	}
	data, ok := obs.Data().([]float64)
	if !ok || len(data) != f.frameSize {
		return nil, fmt.Errorf("observation must hold %v float64's, have "+
			"shape %v", f.frameSize, obs.Shape())
	}
	return data, nil
}

// observation returns a copy of the frame history as a tensor
func (f *FrameStack) observation() *tensor.Dense {
	shape := f.ObservationSpec().Shape
	data := make([]float64, len(f.history))
	copy(data, f.history)

	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
