package expreplay

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// maxRejections is the number of consecutive rejected draws after which
// RandomBatch gives up instead of looping forever on a pool whose
// window holds only terminal transitions
const maxRejections = 10_000

// Pool implements a fixed capacity replay pool of transitions.
//
// Each slot of the pool stores a single raw frame of an observation,
// the action taken, the reward received, and whether the transition
// terminated the episode. The observation following the transition at
// index i is the frame stored at index i+1.
type Pool struct {
	ring
	frame      frame
	actionDim  int
	frameStack int

	observations []float64
	actions      []float64
	rewards      []float64
	terminals    []bool

	rng   *rand.Rand
	stats statsCache
}

// New creates and returns a new Pool
func New(c Config) (*Pool, error) {
	if err := c.Validate(); err != nil {
		return nil, newError("new", err)
	}
	f, _ := newFrame(c.ObservationShape)

	return &Pool{
		ring:       newRing(c.Capacity),
		frame:      f,
		actionDim:  c.ActionDim,
		frameStack: c.FrameStack,

		observations: make([]float64, c.Capacity*f.size),
		actions:      make([]float64, c.Capacity*c.ActionDim),
		rewards:      make([]float64, c.Capacity),
		terminals:    make([]bool, c.Capacity),

		rng: rand.New(rand.NewSource(c.Seed)),
	}, nil
}

// Size returns the number of valid transitions in the pool
func (p *Pool) Size() int {
	return p.size
}

// Capacity returns the maximum number of transitions in the pool
func (p *Pool) Capacity() int {
	return p.capacity
}

// FrameStack returns the number of frames stacked into each sampled
// observation
func (p *Pool) FrameStack() int {
	return p.frameStack
}

// ActionDim returns the size of stored actions
func (p *Pool) ActionDim() int {
	return p.actionDim
}

// ObservationShape returns the shape of a single stored frame
func (p *Pool) ObservationShape() []int {
	return p.frame.shape.Clone()
}

// validate checks a sample against the pool's shapes and returns the
// raw frame to store
func (p *Pool) validate(s Sample) ([]float64, error) {
	obs, err := p.frame.trailing(s.Observation)
	if err != nil {
		return nil, err
	}
	if s.Action == nil || s.Action.Len() != p.actionDim {
		have := 0
		if s.Action != nil {
			have = s.Action.Len()
		}
		return nil, fmt.Errorf("invalid action size \n\twant(%v)\n\t"+
			"have(%v): %w", p.actionDim, have, ErrShapeMismatch)
	}
	return obs, nil
}

// Validate checks whether a sample could be added to the pool. It
// does not read or modify the pool's contents and so may be called
// concurrently with other pool methods.
func (p *Pool) Validate(s Sample) error {
	if _, err := p.validate(s); err != nil {
		return newError("validate", err)
	}
	return nil
}

// write stores a validated sample at the top of the ring
func (p *Pool) write(obs []float64, s Sample) {
	obsInd := p.top * p.frame.size
	copy(p.observations[obsInd:obsInd+p.frame.size], obs)

	actInd := p.top * p.actionDim
	for i := 0; i < p.actionDim; i++ {
		p.actions[actInd+i] = s.Action.AtVec(i)
	}

	p.rewards[p.top] = s.Reward
	p.terminals[p.top] = s.Terminal
	p.advance()
}

// AddSample adds a transition to the pool, evicting the oldest
// transition if the pool is full. Only the last ObservationShape()[0]
// channels of the observation are stored, so observations which are
// already frame-stacked may be added directly.
//
// If the observation or action does not match the configured shapes,
// an error is returned and the pool is left unmodified.
func (p *Pool) AddSample(observation tensor.Tensor, action mat.Vector,
	reward float64, terminal bool) error {
	s := Sample{
		Observation: observation,
		Action:      action,
		Reward:      reward,
		Terminal:    terminal,
	}

	obs, err := p.validate(s)
	if err != nil {
		return newError("addSample", err)
	}
	p.write(obs, s)
	return nil
}

// AddEpisode adds a sequence of transitions to the pool in order.
// Every sample is validated before any is written.
func (p *Pool) AddEpisode(episode []Sample) error {
	frames := make([][]float64, len(episode))
	for i, s := range episode {
		obs, err := p.validate(s)
		if err != nil {
			return newError("addEpisode", fmt.Errorf("sample %v: %w", i,
				err))
		}
		frames[i] = obs
	}

	for i, s := range episode {
		p.write(frames[i], s)
	}
	return nil
}

// RandomBatch samples a batch of batchSize transitions uniformly, with
// replacement, from the pool.
//
// The most recently added transition and terminal transitions are
// never sampled, since neither has a valid next observation. The first
// FrameStack() transitions of the pool are never sampled either, so
// that each sampled observation has a full history of frames.
//
// An error satisfying IsInsufficientData is returned if the pool does
// not hold more than batchSize transitions.
func (p *Pool) RandomBatch(batchSize int) (Batch, error) {
	if batchSize <= 0 {
		return Batch{}, newError("randomBatch", ErrInvalidBatchSize)
	}
	if p.size <= batchSize || p.size <= p.frameStack {
		return Batch{}, newError("randomBatch", fmt.Errorf("have %v "+
			"samples, need more than %v: %w", p.size,
			max(batchSize, p.frameStack), ErrInsufficientData))
	}

	indices := make([]int, 0, batchSize)
	newest := p.newest()
	rejected := 0
	for len(indices) < batchSize {
		offset := p.frameStack + p.rng.Intn(p.size-p.frameStack)
		index := p.index(offset)

		if index == newest || p.terminals[index] {
			rejected++
			if rejected >= maxRejections {
				return Batch{}, newError("randomBatch", ErrNoValidTransition)
			}
			continue
		}

		rejected = 0
		indices = append(indices, index)
	}

	return p.gather(indices), nil
}

// stack returns the ring indices of the frames which make up the
// stacked observation at index, oldest first. Frames from before a
// terminal transition belong to a previous episode and are replaced by
// the earliest frame of index's episode.
func (p *Pool) stack(index int) []int {
	frames := make([]int, p.frameStack)
	frames[p.frameStack-1] = index

	current := index
	boundary := false
	for k := 1; k < p.frameStack; k++ {
		prev := p.wrap(index - k)
		if !boundary && p.terminals[prev] {
			boundary = true
		}
		if !boundary {
			current = prev
		}
		frames[p.frameStack-1-k] = current
	}
	return frames
}

// gather builds the batch of transitions at the given ring indices
func (p *Pool) gather(indices []int) Batch {
	n := len(indices)
	size := p.frame.size
	stacked := size * p.frameStack

	obs := make([]float64, n*stacked)
	nextObs := make([]float64, n*size)
	actions := make([]float64, n*p.actionDim)
	rewards := make([]float64, n)
	terminals := make([]bool, n)

	for i, index := range indices {
		row := obs[i*stacked : (i+1)*stacked]
		for k, f := range p.stack(index) {
			copy(row[k*size:(k+1)*size], p.observations[f*size:(f+1)*size])
		}

		next := p.wrap(index + 1)
		copy(nextObs[i*size:(i+1)*size],
			p.observations[next*size:(next+1)*size])

		copy(actions[i*p.actionDim:(i+1)*p.actionDim],
			p.actions[index*p.actionDim:(index+1)*p.actionDim])

		rewards[i] = p.rewards[index]
		terminals[i] = p.terminals[index]
	}

	return Batch{
		Indices: indices,
		Observations: tensor.New(
			tensor.WithShape(p.frame.batchShape(n, p.frameStack)...),
			tensor.WithBacking(obs),
		),
		Actions:   mat.NewDense(n, p.actionDim, actions),
		Rewards:   rewards,
		Terminals: terminals,
		NextObservations: tensor.New(
			tensor.WithShape(p.frame.batchShape(n, 1)...),
			tensor.WithBacking(nextObs),
		),
	}
}

// MeanStd computes the per-feature mean and standard deviation of the
// stored frames. Statistics are recomputed on every call.
func (p *Pool) MeanStd() ([]float64, []float64, error) {
	if p.size == 0 {
		return nil, nil, newError("meanStd", ErrInsufficientData)
	}
	mean, std := meanStd(p.observations, p.frame.size, &p.ring)
	return mean, std, nil
}

// CachedMeanStd returns the per-feature mean and standard deviation of
// the stored frames. The statistics are only recomputed if samples
// were added since the last call.
func (p *Pool) CachedMeanStd() ([]float64, []float64, error) {
	if p.size == 0 {
		return nil, nil, newError("cachedMeanStd", ErrInsufficientData)
	}

	key := windowKey{size: p.size, bottom: p.bottom, top: p.top}
	mean, std := p.stats.get(key, func() ([]float64, []float64) {
		return meanStd(p.observations, p.frame.size, &p.ring)
	})
	return mean, std, nil
}

// String returns the string representation of the pool
func (p *Pool) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Capacity: %v \nSize: %v \nBottom: %v \nTop: %v \n",
		p.capacity, p.size, p.bottom, p.top)
	fmt.Fprintf(&b, "Observation Shape: %v \nFrame Stack: %v \n",
		p.frame.shape, p.frameStack)
	fmt.Fprintf(&b, "Observations: %v \nActions: %v \nRewards: %v \n"+
		"Terminals: %v", p.observations, p.actions, p.rewards, p.terminals)
	return b.String()
}
