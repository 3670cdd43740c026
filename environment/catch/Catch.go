// Package catch implements the Catch environment, a small pixel game
// used to produce image observations.
//
// A ball falls one row per step from a random column at the top of the
// screen. The agent moves a paddle along the bottom row and must be
// underneath the ball when the ball reaches the bottom. Catching the
// ball gives a reward of +1 and missing it -1; every other step gives
// a reward of 0. The episode ends once the ball reaches the bottom row.
package catch

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	env "github.com/samuelfneumann/replaypool/environment"
	ts "github.com/samuelfneumann/replaypool/timestep"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

const (
	Left int = iota
	Stay
	Right
	Actions
)

const (
	CatchReward float64 = 1.0
	MissReward  float64 = -1.0
	StepReward  float64 = 0.0

	// PaddleWidth is the number of cells covered by the paddle
	PaddleWidth int = 3

	MinRows int = 3
	MinCols int = PaddleWidth
)

// Catch implements the Catch environment
type Catch struct {
	rows, cols int
	discount   float64
	ender      env.Ender
	rng        *rand.Rand

	ballRow, ballCol int
	paddleCol        int // Column of the centre of the paddle

	canvas      *gg.Context
	currentStep ts.TimeStep
}

// New creates and returns a new Catch environment on a rows x cols
// screen, together with the first TimeStep. If cutoff > 0, episodes are
// additionally cut off after cutoff steps.
func New(rows, cols, cutoff int, discount float64,
	seed uint64) (*Catch, ts.TimeStep, error) {
	if rows < MinRows {
		return nil, ts.TimeStep{}, fmt.Errorf("new: rows must be >= %v, "+
			"have(%v)", MinRows, rows)
	}
	if cols < MinCols {
		return nil, ts.TimeStep{}, fmt.Errorf("new: cols must be >= %v, "+
			"have(%v)", MinCols, cols)
	}

	c := &Catch{
		rows:     rows,
		cols:     cols,
		discount: discount,
		ender:    env.NewStepLimit(cutoff),
		rng:      rand.New(rand.NewSource(seed)),
		canvas:   gg.NewContext(cols, rows),
	}

	step, err := c.Reset()
	return c, step, err
}

// Reset resets the environment to some starting state
func (c *Catch) Reset() (ts.TimeStep, error) {
	c.ballRow = 0
	c.ballCol = c.rng.Intn(c.cols)
	c.paddleCol = c.cols / 2

	c.currentStep = ts.New(ts.First, 0, c.discount, c.render(), 0)
	return c.currentStep, nil
}

// Step takes one environmental step given some action
func (c *Catch) Step(action mat.Vector) (ts.TimeStep, bool, error) {
	if action.Len() != 1 {
		return ts.TimeStep{}, true, fmt.Errorf("step: actions must be " +
			"1-dimensional")
	}
	if c.currentStep.Last() {
		return ts.TimeStep{}, true, fmt.Errorf("step: episode has ended, " +
			"call Reset")
	}

	a := int(action.AtVec(0))
	if a < Left || a >= Actions {
		return ts.TimeStep{}, true, fmt.Errorf("step: illegal action %v",
			a)
	}

	c.paddleCol = clip(c.paddleCol+a-Stay, 0, c.cols-1)
	c.ballRow++

	reward := StepReward
	stepType := ts.Mid
	if c.ballRow == c.rows-1 {
		stepType = ts.Last
		if c.caught() {
			reward = CatchReward
		} else {
			reward = MissReward
		}
	}

	step := ts.New(stepType, reward, c.discount, c.render(),
		c.currentStep.Number+1)
	c.ender.End(&step)
	c.currentStep = step

	return step, step.Last(), nil
}

// caught returns whether the paddle is underneath the ball
func (c *Catch) caught() bool {
	d := c.ballCol - c.paddleCol
	if d < 0 {
		d = -d
	}
	return d <= PaddleWidth/2
}

// render draws the current screen and returns it as a (1, rows, cols)
// observation with pixel intensities in [0, 1]
func (c *Catch) render() *tensor.Dense {
	c.canvas.SetRGB(0, 0, 0)
	c.canvas.Clear()

	c.canvas.SetRGB(1, 1, 1)
	c.canvas.DrawRectangle(float64(c.ballCol), float64(c.ballRow), 1, 1)
	c.canvas.Fill()

	left := clip(c.paddleCol-PaddleWidth/2, 0, c.cols-1)
	right := clip(c.paddleCol+PaddleWidth/2, 0, c.cols-1)
	c.canvas.DrawRectangle(float64(left), float64(c.rows-1),
		float64(right-left+1), 1)
	c.canvas.Fill()

	return pixels(c.canvas.Image(), c.rows, c.cols)
}

// pixels converts an image to a single channel tensor of grey levels
func pixels(img image.Image, rows, cols int) *tensor.Dense {
	data := make([]float64, rows*cols)
	bounds := img.Bounds()
	for r := 0; r < rows; r++ {
		for col := 0; col < cols; col++ {
			red, green, blue, _ := img.At(bounds.Min.X+col,
				bounds.Min.Y+r).RGBA()
			data[r*cols+col] = float64(red+green+blue) / (3 * 0xffff)
		}
	}
	return tensor.New(tensor.WithShape(1, rows, cols),
		tensor.WithBacking(data))
}

// CurrentTimeStep returns the current time step in the environment
func (c *Catch) CurrentTimeStep() ts.TimeStep {
	return c.currentStep
}

// ActionSpec returns the action specification of the environment
func (c *Catch) ActionSpec() env.Spec {
	lowerBound := mat.NewVecDense(1, []float64{float64(Left)})
	upperBound := mat.NewVecDense(1, []float64{float64(Actions - 1)})

	return env.NewSpec([]int{1}, env.Action, lowerBound, upperBound,
		env.Discrete)
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Catch) ObservationSpec() env.Spec {
	lowerBound := mat.NewVecDense(1, []float64{0})
	upperBound := mat.NewVecDense(1, []float64{1})

	return env.NewSpec([]int{1, c.rows, c.cols}, env.Observation, lowerBound,
		upperBound, env.Continuous)
}

// BallPosition returns the row and column of the ball
func (c *Catch) BallPosition() (int, int) {
	return c.ballRow, c.ballCol
}

// PaddleColumn returns the column of the centre of the paddle
func (c *Catch) PaddleColumn() int {
	return c.paddleCol
}

func clip(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
