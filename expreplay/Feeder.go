package expreplay

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Feeder owns a Pool and performs every operation on it from a single
// goroutine, so that many producers can add experience to one pool.
//
// Producers hand over complete episodes. An episode is added to the
// pool in one piece, so transitions from different producers are never
// interleaved within an episode. Episodes must end in a terminal
// transition, since the first frame of the next episode added to the
// pool would otherwise become the next observation of the last
// transition.
type Feeder struct {
	pool   *Pool
	states *SingleStatePool
	logger *log.Logger

	episodes chan []Sample
	calls    chan func()

	// Counters, only touched by the Run goroutine
	added   int
	dropped int
	stored  int
}

// FeederOption configures a Feeder
type FeederOption func(*Feeder)

// WithStatePool makes the Feeder offer every observation it adds to
// the transition pool to states as well
func WithStatePool(states *SingleStatePool) FeederOption {
	return func(f *Feeder) {
		f.states = states
	}
}

// WithLogger sets the logger used by the Feeder
func WithLogger(logger *log.Logger) FeederOption {
	return func(f *Feeder) {
		f.logger = logger
	}
}

// NewFeeder returns a new Feeder for pool which buffers at most
// queueSize episodes before AddEpisode blocks
func NewFeeder(pool *Pool, queueSize int, opts ...FeederOption) *Feeder {
	if queueSize < 0 {
		queueSize = 0
	}

	f := &Feeder{
		pool:     pool,
		logger:   log.New(os.Stderr, "feeder: ", log.LstdFlags),
		episodes: make(chan []Sample, queueSize),
		calls:    make(chan func()),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddEpisode queues an episode to be added to the pool. Shapes are
// validated on the calling goroutine so that invalid samples are
// reported to their producer. AddEpisode blocks while the queue is full
// and returns ctx.Err() if ctx is done first.
func (f *Feeder) AddEpisode(ctx context.Context, episode []Sample) error {
	if len(episode) == 0 {
		return nil
	}
	if !episode[len(episode)-1].Terminal {
		return newError("addEpisode", ErrOpenEpisode)
	}
	for i, s := range episode {
		if err := f.pool.Validate(s); err != nil {
			return newError("addEpisode", fmt.Errorf("sample %v: %w", i, err))
		}
		if f.states != nil {
			if err := f.states.Validate(s.Observation); err != nil {
				return newError("addEpisode", fmt.Errorf("sample %v: %w", i,
					err))
			}
		}
	}

	select {
	case f.episodes <- episode:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the Run goroutine and waits for it to finish
func (f *Feeder) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		fn()
		close(done)
	}

	select {
	case f.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once accepted, the call runs to completion without blocking
	<-done
	return nil
}

// RandomBatch samples a batch of transitions from the pool
func (f *Feeder) RandomBatch(ctx context.Context, batchSize int) (Batch,
	error) {
	var batch Batch
	var err error
	if ctxErr := f.do(ctx, func() {
		batch, err = f.pool.RandomBatch(batchSize)
	}); ctxErr != nil {
		return Batch{}, ctxErr
	}
	return batch, err
}

// StateBatch samples a batch of observations from the state pool. It
// returns an error if the Feeder has no state pool.
func (f *Feeder) StateBatch(ctx context.Context, batchSize int) (StateBatch,
	error) {
	if f.states == nil {
		return StateBatch{}, fmt.Errorf("stateBatch: feeder has no state pool")
	}

	var batch StateBatch
	var err error
	if ctxErr := f.do(ctx, func() {
		batch, err = f.states.RandomBatch(batchSize)
	}); ctxErr != nil {
		return StateBatch{}, ctxErr
	}
	return batch, err
}

// CachedMeanStd returns the cached observation statistics of the
// transition pool
func (f *Feeder) CachedMeanStd(ctx context.Context) ([]float64, []float64,
	error) {
	var mean, std []float64
	var err error
	if ctxErr := f.do(ctx, func() {
		mean, std, err = f.pool.CachedMeanStd()
	}); ctxErr != nil {
		return nil, nil, ctxErr
	}
	return mean, std, err
}

// StateMeanStd returns the cached observation statistics of the state
// pool
func (f *Feeder) StateMeanStd(ctx context.Context) ([]float64, []float64,
	error) {
	if f.states == nil {
		return nil, nil, fmt.Errorf("stateMeanStd: feeder has no state pool")
	}

	var mean, std []float64
	var err error
	if ctxErr := f.do(ctx, func() {
		mean, std, err = f.states.CachedMeanStd()
	}); ctxErr != nil {
		return nil, nil, ctxErr
	}
	return mean, std, err
}

// Size returns the number of transitions in the pool
func (f *Feeder) Size(ctx context.Context) (int, error) {
	var size int
	err := f.do(ctx, func() {
		size = f.pool.Size()
	})
	return size, err
}

// Run adds queued episodes to the pool and serves sampling calls until
// ctx is done. It must be running for any other Feeder method to make
// progress. Once ctx is done, Run adds the episodes still waiting in
// the queue and returns nil.
func (f *Feeder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.drain()
			f.logger.Printf("stopping: %v transitions added, %v states "+
				"stored, %v states dropped", f.added, f.stored, f.dropped)
			return nil

		case episode := <-f.episodes:
			f.ingest(episode)

		case call := <-f.calls:
			call()
		}
	}
}

func (f *Feeder) drain() {
	for {
		select {
		case episode := <-f.episodes:
			f.ingest(episode)
		default:
			return
		}
	}
}

// ingest adds an episode to the pool and offers its observations to
// the state pool
func (f *Feeder) ingest(episode []Sample) {
	if err := f.pool.AddEpisode(episode); err != nil {
		f.logger.Printf("dropping episode: %v", err)
		return
	}
	f.added += len(episode)

	if f.states == nil {
		return
	}
	for _, s := range episode {
		stored, err := f.states.AddSample(s.Observation)
		if err != nil {
			f.logger.Printf("dropping state: %v", err)
			continue
		}
		if stored {
			f.stored++
		} else {
			f.dropped++
		}
	}
}
