package experiment

import (
	"fmt"
	"math"

	env "github.com/samuelfneumann/replaypool/environment"
	ts "github.com/samuelfneumann/replaypool/timestep"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Policy selects actions to take in an environment
type Policy interface {
	SelectAction(t ts.TimeStep) mat.Vector
}

// UniformPolicy selects actions uniformly at random from the bounds of
// an action Spec. Discrete actions are drawn from the integers within
// the bounds.
type UniformPolicy struct {
	discrete bool
	low      []float64
	high     []float64
	rng      *rand.Rand
	dists    []distuv.Uniform
}

// NewUniformPolicy returns a new UniformPolicy for the action spec
func NewUniformPolicy(spec env.Spec, seed uint64) (*UniformPolicy, error) {
	if spec.Type != env.Action {
		return nil, fmt.Errorf("newUniformPolicy: spec must be an action " +
			"spec")
	}

	n := spec.LowerBound.Len()
	low := make([]float64, n)
	high := make([]float64, n)
	for i := 0; i < n; i++ {
		low[i] = spec.LowerBound.AtVec(i)
		high[i] = spec.UpperBound.AtVec(i)
		if high[i] < low[i] {
			return nil, fmt.Errorf("newUniformPolicy: upper bound %v "+
				"below lower bound %v", high[i], low[i])
		}
	}

	rng := rand.New(rand.NewSource(seed))
	p := &UniformPolicy{
		discrete: spec.Cardinality == env.Discrete,
		low:      low,
		high:     high,
		rng:      rng,
	}

	if !p.discrete {
		p.dists = make([]distuv.Uniform, n)
		for i := range p.dists {
			p.dists[i] = distuv.Uniform{Min: low[i], Max: high[i], Src: rng}
		}
	}
	return p, nil
}

// SelectAction selects an action at random, ignoring the TimeStep
func (u *UniformPolicy) SelectAction(ts.TimeStep) mat.Vector {
	action := make([]float64, len(u.low))
	for i := range action {
		if u.discrete {
			low, high := math.Ceil(u.low[i]), math.Floor(u.high[i])
			action[i] = low + float64(u.rng.Intn(int(high-low)+1))
		} else {
			action[i] = u.dists[i].Rand()
		}
	}
	return mat.NewVecDense(len(action), action)
}
