package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samuelfneumann/replaypool/environment/catch"
	"github.com/samuelfneumann/replaypool/environment/wrappers"
	"github.com/samuelfneumann/replaypool/experiment/tracker"
	"github.com/samuelfneumann/replaypool/expreplay"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a finished run
type Summary struct {
	Steps       uint
	Episodes    int
	Transitions int
	States      int

	// Batches is the number of batches the learner sampled and
	// standardized, Skipped the number of attempts made while the pool
	// could not produce a batch yet
	Batches int
	Skipped int

	MeanReturn float64
}

// String implements the fmt.Stringer interface
func (s Summary) String() string {
	return fmt.Sprintf("Steps: %v | Episodes: %v | Transitions: %v | "+
		"States: %v | Batches: %v | Skipped: %v | Mean Return: %.3f",
		s.Steps, s.Episodes, s.Transitions, s.States, s.Batches, s.Skipped,
		s.MeanReturn)
}

// Run collects experience as described by the Config. Collectors run
// concurrently and feed a single pool through a Feeder while a learner
// loop samples from it. Run returns once every collector has taken its
// steps, or with an error as soon as any part of the run fails. The
// options are passed to every collector.
func Run(ctx context.Context, c Config, logger *log.Logger,
	opts ...CollectorOption) (Summary, error) {
	if err := c.Validate(); err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	pool, err := c.PoolConfig().Create()
	if err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}
	states, err := c.StateConfig().Create()
	if err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}
	feeder := expreplay.NewFeeder(pool, c.QueueSize,
		expreplay.WithStatePool(states),
		expreplay.WithLogger(prefixed(logger, "feeder: ")),
	)

	collectors, returns, err := c.collectors(feeder, logger, opts)
	if err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}

	// Cancelling feedCtx stops the feeder and the learner once the
	// collectors are done
	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	g, gctx := errgroup.WithContext(feedCtx)

	g.Go(func() error {
		return feeder.Run(gctx)
	})

	l := learner{
		feeder:    feeder,
		batchSize: c.BatchSize,
		every:     c.LearnEvery,
		logger:    prefixed(logger, "learner: "),
	}
	g.Go(func() error {
		return l.run(gctx)
	})

	g.Go(func() error {
		defer stopFeed()
		cg, cctx := errgroup.WithContext(gctx)
		for _, col := range collectors {
			col := col
			cg.Go(func() error {
				return col.Run(cctx)
			})
		}
		return cg.Wait()
	})

	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, fmt.Errorf("run: %w", err)
	}

	// The feeder has stopped, so the pools may be read directly
	summary := Summary{
		Transitions: pool.Size(),
		States:      states.Size(),
		Batches:     l.batches,
		Skipped:     l.skipped,
	}
	var allReturns []float64
	for i, col := range collectors {
		summary.Steps += col.Steps()
		summary.Episodes += col.Episodes()
		allReturns = append(allReturns, returns[i].Returns()...)

		if err := col.Save(); err != nil {
			return summary, fmt.Errorf("run: collector %v: %w", col.ID, err)
		}
	}
	if len(allReturns) > 0 {
		summary.MeanReturn = stat.Mean(allReturns, nil)
	}

	logger.Println(summary)
	return summary, nil
}

// collectors creates the collectors of the run, each playing its own
// frame-stacked Catch environment
func (c Config) collectors(sink EpisodeSink, logger *log.Logger,
	opts []CollectorOption) ([]*Collector, []*tracker.Return, error) {
	collectors := make([]*Collector, c.Collectors)
	returns := make([]*tracker.Return, c.Collectors)

	for i := range collectors {
		seed := c.Seed + uint64(i)*2

		game, _, err := catch.New(c.Rows, c.Cols, c.Cutoff, c.Discount, seed)
		if err != nil {
			return nil, nil, err
		}
		e, _, err := wrappers.NewFrameStack(game, c.FrameStack)
		if err != nil {
			return nil, nil, err
		}
		policy, err := NewUniformPolicy(e.ActionSpec(), seed+1)
		if err != nil {
			return nil, nil, err
		}

		id := uuid.NewString()
		var filename string
		if c.ReturnsDir != "" {
			filename = filepath.Join(c.ReturnsDir, id+".bin")
		}
		returns[i] = tracker.NewReturn(filename)

		colOpts := []CollectorOption{
			WithID(id),
			WithTrackers(returns[i]),
			WithCollectorLogger(prefixed(logger, "collector "+id+": ")),
		}
		colOpts = append(colOpts, opts...)
		collectors[i] = NewCollector(e, policy, sink, c.StepsPerCollector,
			colOpts...)
	}
	return collectors, returns, nil
}

// learner periodically samples standardized batches of transitions and
// states through a Feeder
type learner struct {
	feeder    *expreplay.Feeder
	batchSize int
	every     time.Duration
	logger    *log.Logger

	batches int
	skipped int
}

func (l *learner) run(ctx context.Context) error {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Printf("stopping: %v batches, %v skipped", l.batches,
				l.skipped)
			return nil
		case <-ticker.C:
		}

		err := l.step(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, expreplay.ErrInsufficientData),
			errors.Is(err, expreplay.ErrNoValidTransition):
			l.skipped++
		case err != nil:
			return err
		default:
			l.batches++
		}
	}
}

// step samples and standardizes one batch of transitions and one batch
// of states
func (l *learner) step(ctx context.Context) error {
	batch, err := l.feeder.RandomBatch(ctx, l.batchSize)
	if err != nil {
		return err
	}
	mean, std, err := l.feeder.CachedMeanStd(ctx)
	if err != nil {
		return err
	}
	if _, err := expreplay.Standardize(batch.Observations, mean,
		std); err != nil {
		return err
	}
	if _, err := expreplay.Standardize(batch.NextObservations, mean,
		std); err != nil {
		return err
	}

	states, err := l.feeder.StateBatch(ctx, l.batchSize)
	if err != nil {
		return err
	}
	mean, std, err = l.feeder.StateMeanStd(ctx)
	if err != nil {
		return err
	}
	_, err = expreplay.Standardize(states.Observations, mean, std)
	return err
}

func prefixed(logger *log.Logger, prefix string) *log.Logger {
	return log.New(logger.Writer(), prefix, logger.Flags())
}
