package expreplay

import "errors"

// ExpReplayError implements errors unique to an experience replay
// pool. Op names the pool operation which failed.
type ExpReplayError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *ExpReplayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error so that errors.Is can match
// against the sentinel errors of this package
func (e *ExpReplayError) Unwrap() error {
	return e.Err
}

var (
	// ErrInsufficientData is returned when a batch is requested from a
	// pool that does not hold more samples than the batch size.
	ErrInsufficientData = errors.New("insufficient samples in pool")

	// ErrShapeMismatch is returned when an observation or action does
	// not match the shape the pool was configured with. The pool is
	// left untouched.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInvalidConfig is returned when constructing a pool from an
	// invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidBatchSize is returned for non-positive batch sizes
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrNoValidTransition is returned when the sampler keeps drawing
	// terminal or most recent indices and cannot assemble a batch.
	ErrNoValidTransition = errors.New("no valid transition to sample")

	// ErrOpenEpisode is returned by a Feeder for episodes that do not
	// end in a terminal transition.
	ErrOpenEpisode = errors.New("episode does not end in a terminal " +
		"transition")
)

func newError(op string, err error) error {
	return &ExpReplayError{Op: op, Err: err}
}

// IsInsufficientData returns whether or not an error reports that
// there are too few samples in a pool to draw a batch. The caller
// should add more samples before trying again.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsShapeMismatch returns whether or not an error reports that a
// sample was rejected because of its shape.
func IsShapeMismatch(err error) bool {
	return errors.Is(err, ErrShapeMismatch)
}
