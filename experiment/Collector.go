package experiment

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	env "github.com/samuelfneumann/replaypool/environment"
	"github.com/samuelfneumann/replaypool/experiment/tracker"
	"github.com/samuelfneumann/replaypool/expreplay"
	ts "github.com/samuelfneumann/replaypool/timestep"
)

// EpisodeSink receives complete episodes of experience
type EpisodeSink interface {
	AddEpisode(ctx context.Context, episode []expreplay.Sample) error
}

// PoolSink adds episodes directly to a Pool. It must only be used by
// the goroutine which owns the Pool.
type PoolSink struct {
	*expreplay.Pool
}

// AddEpisode adds episode to the Pool
func (p PoolSink) AddEpisode(_ context.Context,
	episode []expreplay.Sample) error {
	return p.Pool.AddEpisode(episode)
}

// Collector runs a policy in an environment and ships the experience
// to an EpisodeSink one episode at a time.
//
// Each step of the environment becomes one Sample: the observation the
// action was selected at, the action, and the reward and termination
// of the following TimeStep.
type Collector struct {
	ID string

	env.Environment
	Policy
	sink     EpisodeSink
	trackers []tracker.Tracker
	logger   *log.Logger
	onStep   func()

	maxSteps     uint
	currentSteps uint
	episodes     int
	truncated    int
}

// CollectorOption configures a Collector
type CollectorOption func(*Collector)

// WithTrackers registers trackers with the Collector, which are sent
// every TimeStep
func WithTrackers(t ...tracker.Tracker) CollectorOption {
	return func(c *Collector) {
		c.trackers = append(c.trackers, t...)
	}
}

// WithID sets the ID of the Collector, which otherwise is a random UUID
func WithID(id string) CollectorOption {
	return func(c *Collector) {
		c.ID = id
	}
}

// WithCollectorLogger sets the logger of the Collector
func WithCollectorLogger(logger *log.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithStepHook registers a function called after every environment
// step, e.g. to drive a progress bar
func WithStepHook(f func()) CollectorOption {
	return func(c *Collector) {
		c.onStep = f
	}
}

// NewCollector creates and returns a new Collector which runs for at
// most steps environment steps
func NewCollector(e env.Environment, p Policy, sink EpisodeSink,
	steps uint, opts ...CollectorOption) *Collector {
	c := &Collector{
		ID:          uuid.NewString(),
		Environment: e,
		Policy:      p,
		sink:        sink,
		maxSteps:    steps,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = log.New(os.Stderr, "collector "+c.ID+": ", log.LstdFlags)
	}
	return c
}

// RunEpisode runs a single episode and returns whether the step limit
// of the Collector has been reached.
//
// Episodes cut short by the step limit are not sent to the sink, since
// their last transition has no next observation in the sink.
func (c *Collector) RunEpisode(ctx context.Context) (bool, error) {
	step, err := c.Environment.Reset()
	if err != nil {
		return true, fmt.Errorf("runEpisode: could not reset: %v", err)
	}
	c.track(step)

	var episode []expreplay.Sample
	for !step.Last() && c.currentSteps < c.maxSteps {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		c.currentSteps++

		action := c.Policy.SelectAction(step)
		next, _, err := c.Environment.Step(action)
		if err != nil {
			return true, fmt.Errorf("runEpisode: could not step: %v", err)
		}

		episode = append(episode, expreplay.Sample{
			Observation: step.Observation,
			Action:      action,
			Reward:      next.Reward,
			Terminal:    next.Last(),
		})

		c.track(next)
		if c.onStep != nil {
			c.onStep()
		}
		step = next
	}

	if step.Last() {
		if err := c.sink.AddEpisode(ctx, episode); err != nil {
			return true, fmt.Errorf("runEpisode: %w", err)
		}
		c.episodes++
	} else {
		c.truncated++
	}

	return c.currentSteps >= c.maxSteps, nil
}

// Run runs episodes until the step limit is reached or ctx is done
func (c *Collector) Run(ctx context.Context) error {
	for {
		ended, err := c.RunEpisode(ctx)
		if err != nil {
			return err
		}
		if ended {
			c.logger.Printf("finished: %v steps, %v episodes, %v truncated",
				c.currentSteps, c.episodes, c.truncated)
			return nil
		}
	}
}

// Save saves the data of all trackers
func (c *Collector) Save() error {
	for _, t := range c.trackers {
		if err := t.Save(); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns the number of environment steps taken so far
func (c *Collector) Steps() uint {
	return c.currentSteps
}

// Episodes returns the number of episodes sent to the sink
func (c *Collector) Episodes() int {
	return c.episodes
}

func (c *Collector) track(t ts.TimeStep) {
	for _, tr := range c.trackers {
		tr.Track(t)
	}
}
