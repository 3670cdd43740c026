package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samuelfneumann/progressbar"
	"github.com/samuelfneumann/replaypool/experiment"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "replaypool",
	Short: "Collect image experience into a replay pool",
	Long: `Runs concurrent collectors playing Catch with a random policy.

Collected episodes are fed into a transition replay pool and a
subsampled single state pool, while a learner loop samples standardized
frame-stacked batches from both pools. Settings are read from flags, a
config file, and REPLAYPOOL_* environment variables.`,
	Run: runCollect,
}

func init() {
	c := experiment.Default()
	flags := rootCmd.Flags()

	flags.StringVar(&configFile, "config", "", "Config file (yaml, json, toml)")
	flags.BoolVar(&quiet, "quiet", false, "Do not display a progress bar")

	// Environment settings
	flags.Int("rows", c.Rows, "Rows of the Catch screen")
	flags.Int("cols", c.Cols, "Columns of the Catch screen")
	flags.Int("cutoff", c.Cutoff, "Step cutoff per episode (0 to disable)")
	flags.Float64("discount", c.Discount, "Environment discount")

	// Collection settings
	flags.Int("collectors", c.Collectors, "Number of concurrent collectors")
	flags.Uint("steps", c.StepsPerCollector, "Environment steps per collector")
	flags.Int("queue-size", c.QueueSize, "Episodes buffered before collectors block")
	flags.Int("batch-size", c.BatchSize, "Learner batch size")
	flags.Duration("learn-every", c.LearnEvery, "Interval between learner batches")
	flags.Uint64("seed", c.Seed, "Seed for all random number generators")
	flags.String("returns-dir", c.ReturnsDir, "Directory to save episodic returns to")

	// Pool settings
	flags.Int("capacity", c.Capacity, "Transition pool capacity")
	flags.Int("frame-stack", c.FrameStack, "Frames per stacked observation")
	flags.Int("state-capacity", c.StateCapacity, "Single state pool capacity")
	flags.Float64("subsample-factor", c.SubsampleFactor, "Probability a state is retained")
	flags.Bool("fill-before-subsampling", c.FillBeforeSubsampling, "Retain every state until the state pool is full")

	// Config keys use underscores so that they match the environment
	// variables, e.g. REPLAYPOOL_QUEUE_SIZE
	for _, name := range []string{"rows", "cols", "cutoff", "discount",
		"collectors", "steps", "queue-size", "batch-size", "learn-every",
		"seed", "returns-dir", "capacity", "frame-stack", "state-capacity",
		"subsample-factor", "fill-before-subsampling"} {
		key := strings.ReplaceAll(name, "-", "_")
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("init: could not bind flag %v: %v", name, err))
		}
	}
	viper.SetEnvPrefix("REPLAYPOOL")
	viper.AutomaticEnv()
}

func runCollect(cmd *cobra.Command, args []string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Could not read config: %v", err)
		}
	}

	var c experiment.Config
	if err := viper.Unmarshal(&c); err != nil {
		log.Fatalf("Could not decode config: %v", err)
	}
	if err := c.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if c.ReturnsDir != "" {
		if err := os.MkdirAll(c.ReturnsDir, 0o755); err != nil {
			log.Fatalf("Could not create returns directory: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received, stopping collectors...")
		cancel()
	}()

	var opts []experiment.CollectorOption
	if !quiet {
		hook, closeBar := progress(c.TotalSteps())
		defer closeBar()
		opts = append(opts, experiment.WithStepHook(hook))
	}

	log.Printf("Starting %v collectors for %v steps each", c.Collectors,
		c.StepsPerCollector)
	summary, err := experiment.Run(ctx, c, log.Default(), opts...)
	if err != nil {
		log.Fatalf("Collection failed: %v", err)
	}

	fmt.Println()
	fmt.Println(summary)
}

// progress displays a progress bar reaching 100% after steps calls to
// the returned step function. The bar must be closed with the returned
// close function.
func progress(steps int) (func(), func()) {
	bar := progressbar.New(50, steps, time.Second, true)
	bar.Display()
	return bar.Increment, bar.Close
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
