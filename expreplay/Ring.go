package expreplay

import (
	"fmt"

	"gorgonia.org/tensor"
)

// ring tracks the occupied window of a fixed capacity circular store.
// The oldest valid entry lives at bottom and the next write goes to
// top. Once size reaches capacity, every write evicts the entry at
// bottom.
type ring struct {
	capacity int
	bottom   int
	top      int
	size     int
}

func newRing(capacity int) ring {
	return ring{capacity: capacity}
}

// advance moves the ring forward by one written slot
func (r *ring) advance() {
	r.top = (r.top + 1) % r.capacity
	if r.size >= r.capacity {
		r.bottom = (r.bottom + 1) % r.capacity
	} else {
		r.size++
	}
}

// index maps an offset from bottom onto a ring index. Negative
// offsets wrap around.
func (r *ring) index(offset int) int {
	i := (r.bottom + offset) % r.capacity
	if i < 0 {
		i += r.capacity
	}
	return i
}

// wrap maps any integer onto a ring index
func (r *ring) wrap(i int) int {
	i %= r.capacity
	if i < 0 {
		i += r.capacity
	}
	return i
}

// newest returns the index of the most recently written slot
func (r *ring) newest() int {
	return r.wrap(r.top - 1)
}

func (r *ring) full() bool {
	return r.size == r.capacity
}

// frame describes the layout of a single stored observation. A frame
// has shape[0] channels; the trailing dimensions describe a single
// channel.
type frame struct {
	shape       tensor.Shape
	size        int // Number of float64's in a stored frame
	channelSize int // Number of float64's in a single channel
}

func newFrame(shape []int) (frame, error) {
	if len(shape) == 0 {
		return frame{}, fmt.Errorf("observation shape must have at least " +
			"one dimension")
	}

	size := 1
	for _, dim := range shape {
		if dim <= 0 {
			return frame{}, fmt.Errorf("observation shape %v must have "+
				"positive dimensions", shape)
		}
		size *= dim
	}

	s := make(tensor.Shape, len(shape))
	copy(s, shape)

	return frame{
		shape:       s,
		size:        size,
		channelSize: size / shape[0],
	}, nil
}

// trailing validates an observation against the frame layout and
// returns the float64's of its last shape[0] channels. Observations may
// carry more leading channels than the frame (e.g. when they are
// already frame-stacked), in which case the earlier channels are
// dropped.
func (f frame) trailing(obs tensor.Tensor) ([]float64, error) {
	if obs == nil {
		return nil, fmt.Errorf("nil observation: %w", ErrShapeMismatch)
	}
	if obs.Dtype() != tensor.Float64 {
		return nil, fmt.Errorf("observation dtype %v must be %v: %w",
			obs.Dtype(), tensor.Float64, ErrShapeMismatch)
	}

	shape := obs.Shape()
	if len(shape) != len(f.shape) {
		return nil, fmt.Errorf("observation shape \n\twant(%v)\n\thave(%v)"+
			": %w", f.shape, shape, ErrShapeMismatch)
	}
	if shape[0] < f.shape[0] {
		return nil, fmt.Errorf("observation has %v channels, need at least "+
			"%v: %w", shape[0], f.shape[0], ErrShapeMismatch)
	}
	for i := 1; i < len(shape); i++ {
		if shape[i] != f.shape[i] {
			return nil, fmt.Errorf("observation shape \n\twant(%v)\n\t"+
				"have(%v): %w", f.shape, shape, ErrShapeMismatch)
		}
	}

	// Views share the backing data of their parent, so they need to be
	// laid out contiguously before the raw data can be read
	if v, ok := obs.(tensor.View); ok && v.IsMaterializable() {
		obs = v.Materialize()
	}

	data, ok := obs.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("observation data is not []float64: %w",
			ErrShapeMismatch)
	}

	return data[len(data)-f.size:], nil
}

// batchShape returns the shape of a batch of n frames, where frames
// consecutive frames are concatenated along the channel axis
func (f frame) batchShape(n, frames int) tensor.Shape {
	shape := make(tensor.Shape, 0, len(f.shape)+1)
	shape = append(shape, n, f.shape[0]*frames)
	return append(shape, f.shape[1:]...)
}
