package expreplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// scalarObs returns a single channel observation holding v
func scalarObs(v ...float64) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(v)), tensor.WithBacking(v))
}

func action(a float64) mat.Vector {
	return mat.NewVecDense(1, []float64{a})
}

func newScalarPool(t testing.TB, capacity, frameStack int) *Pool {
	p, err := New(Config{
		Capacity:         capacity,
		ObservationShape: []int{1},
		ActionDim:        1,
		FrameStack:       frameStack,
		Seed:             42,
	})
	require.NoError(t, err)
	return p
}

// fill adds one transition per value, using the value as the
// observation, action and reward
func fill(t testing.TB, p *Pool, values []float64, terminals []bool) {
	require.Equal(t, len(values), len(terminals))
	for i, v := range values {
		require.NoError(t, p.AddSample(scalarObs(v), action(v), v,
			terminals[i]))
	}
}

func TestNewInvalidConfig(t *testing.T) {
	valid := Config{
		Capacity:         10,
		ObservationShape: []int{1, 2},
		ActionDim:        1,
		FrameStack:       1,
	}

	tests := map[string]func(c *Config){
		"zero capacity":     func(c *Config) { c.Capacity = 0 },
		"negative capacity": func(c *Config) { c.Capacity = -3 },
		"zero action dim":   func(c *Config) { c.ActionDim = 0 },
		"zero frame stack":  func(c *Config) { c.FrameStack = 0 },
		"empty shape":       func(c *Config) { c.ObservationShape = nil },
		"zero dimension":    func(c *Config) { c.ObservationShape = []int{1, 0} },
		"frame stack fills capacity": func(c *Config) {
			c.FrameStack = c.Capacity
		},
	}

	for name, modify := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid
			modify(&c)
			p, err := c.Create()
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	p, err := valid.Create()
	require.NoError(t, err)
	assert.Equal(t, 10, p.Capacity())
	assert.Equal(t, []int{1, 2}, p.ObservationShape())
	assert.Equal(t, 1, p.FrameStack())
	assert.Equal(t, 1, p.ActionDim())
	assert.Contains(t, p.String(), "Capacity: 10")

	// The returned shape is a copy
	p.ObservationShape()[0] = 5
	assert.Equal(t, []int{1, 2}, p.ObservationShape())
}

func TestCapacityInvariant(t *testing.T) {
	p := newScalarPool(t, 4, 1)

	for i := 0; i < 10; i++ {
		bottom := p.bottom
		wasFull := p.full()

		require.NoError(t, p.AddSample(scalarObs(float64(i)), action(0), 0,
			false))

		assert.LessOrEqual(t, p.Size(), p.Capacity())
		if wasFull {
			assert.Equal(t, (bottom+1)%p.Capacity(), p.bottom)
			assert.Equal(t, p.Capacity(), p.Size())
		} else {
			assert.Equal(t, bottom, p.bottom)
			assert.Equal(t, i+1, p.Size())
		}
	}

	// The oldest surviving observation is 6
	assert.Equal(t, 6.0, p.observations[p.bottom])
}

func TestAddSampleKeepsTrailingChannels(t *testing.T) {
	p, err := New(Config{
		Capacity:         3,
		ObservationShape: []int{2, 3},
		ActionDim:        2,
		FrameStack:       1,
	})
	require.NoError(t, err)

	// An observation with two stacked frames of two channels each
	data := make([]float64, 12)
	for i := range data {
		data[i] = float64(i)
	}
	obs := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(data))

	err = p.AddSample(obs, mat.NewVecDense(2, []float64{1, 2}), 1, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 7, 8, 9, 10, 11}, p.observations[:6])
	assert.Equal(t, []float64{1, 2}, p.actions[:2])
}

func TestAddSampleShapeMismatch(t *testing.T) {
	p, err := New(Config{
		Capacity:         3,
		ObservationShape: []int{2, 3},
		ActionDim:        2,
		FrameStack:       1,
	})
	require.NoError(t, err)
	goodObs := tensor.New(tensor.WithShape(2, 3),
		tensor.WithBacking(make([]float64, 6)))
	goodAct := mat.NewVecDense(2, nil)

	tests := map[string]struct {
		obs tensor.Tensor
		act mat.Vector
	}{
		"too few channels": {
			obs: tensor.New(tensor.WithShape(1, 3),
				tensor.WithBacking(make([]float64, 3))),
			act: goodAct,
		},
		"wrong trailing dim": {
			obs: tensor.New(tensor.WithShape(2, 4),
				tensor.WithBacking(make([]float64, 8))),
			act: goodAct,
		},
		"wrong rank": {
			obs: tensor.New(tensor.WithShape(6),
				tensor.WithBacking(make([]float64, 6))),
			act: goodAct,
		},
		"wrong dtype": {
			obs: tensor.New(tensor.WithShape(2, 3),
				tensor.WithBacking(make([]float32, 6))),
			act: goodAct,
		},
		"nil observation": {
			obs: nil,
			act: goodAct,
		},
		"wrong action size": {
			obs: goodObs,
			act: mat.NewVecDense(3, nil),
		},
		"nil action": {
			obs: goodObs,
			act: nil,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := p.AddSample(test.obs, test.act, 1, false)
			assert.True(t, IsShapeMismatch(err), "error: %v", err)
			assert.Equal(t, 0, p.Size())
			assert.Equal(t, 0, p.top)
		})
	}
}

func TestAddEpisodeIsAtomic(t *testing.T) {
	p := newScalarPool(t, 10, 1)

	episode := []Sample{
		{Observation: scalarObs(1), Action: action(1)},
		{Observation: scalarObs(2), Action: action(2)},
		{Observation: scalarObs(3), Action: mat.NewVecDense(2, nil)},
	}
	err := p.AddEpisode(episode)
	assert.True(t, IsShapeMismatch(err))
	assert.Equal(t, 0, p.Size())

	episode[2].Action = action(3)
	episode[2].Terminal = true
	require.NoError(t, p.AddEpisode(episode))
	assert.Equal(t, 3, p.Size())
	assert.Equal(t, []bool{false, false, true}, p.terminals[:3])
}

func TestRandomBatchInsufficientData(t *testing.T) {
	p := newScalarPool(t, 10, 1)
	fill(t, p, []float64{0, 1, 2, 3}, []bool{false, false, false, false})

	for _, batchSize := range []int{4, 5, 100} {
		_, err := p.RandomBatch(batchSize)
		assert.True(t, IsInsufficientData(err), "batch size %v", batchSize)
	}

	_, err := p.RandomBatch(0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)

	batch, err := p.RandomBatch(3)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Len())
}

func TestRandomBatchFrameStackExceedsSize(t *testing.T) {
	p := newScalarPool(t, 10, 4)
	fill(t, p, []float64{0, 1, 2, 3}, []bool{false, false, false, false})

	_, err := p.RandomBatch(1)
	assert.True(t, IsInsufficientData(err))
}

func TestRandomBatchNeverSamplesNewest(t *testing.T) {
	p := newScalarPool(t, 100, 1)
	values := make([]float64, 10)
	terminals := make([]bool, 10)
	for i := range values {
		values[i] = float64(i)
	}
	fill(t, p, values, terminals)

	for i := 0; i < 200; i++ {
		batch, err := p.RandomBatch(5)
		require.NoError(t, err)
		for _, index := range batch.Indices {
			assert.NotEqual(t, 9, index)
			assert.GreaterOrEqual(t, index, p.FrameStack())
		}
	}
}

func TestRandomBatchNeverSamplesTerminal(t *testing.T) {
	p := newScalarPool(t, 20, 1)
	values := make([]float64, 20)
	terminals := make([]bool, 20)
	for i := range values {
		values[i] = float64(i)
		terminals[i] = i%3 == 2
	}
	fill(t, p, values, terminals)

	for i := 0; i < 200; i++ {
		batch, err := p.RandomBatch(8)
		require.NoError(t, err)
		for j, index := range batch.Indices {
			assert.False(t, p.terminals[index])
			assert.False(t, batch.Terminals[j])
		}
	}
}

func TestRandomBatchNoValidTransition(t *testing.T) {
	p := newScalarPool(t, 5, 1)
	fill(t, p, []float64{0, 1, 2, 3, 4}, []bool{true, true, true, true, true})

	_, err := p.RandomBatch(2)
	assert.ErrorIs(t, err, ErrNoValidTransition)
}

// Observations 0, 1, 2 form one episode ending at 2, and 3, 4 start the
// next episode.
func TestFrameStackScenario(t *testing.T) {
	p := newScalarPool(t, 5, 2)
	fill(t, p, []float64{0, 1, 2}, []bool{false, false, true})
	fill(t, p, []float64{3, 4}, []bool{false, false})
	require.Equal(t, 5, p.Size())

	batch := p.gather([]int{1, 3})
	obs := batch.Observations.Data().([]float64)
	assert.Equal(t, []int{2, 2}, []int(batch.Observations.Shape()))
	assert.Equal(t, []float64{0, 1}, obs[0:2])
	assert.Equal(t, []float64{3, 3}, obs[2:4])

	next := batch.NextObservations.Data().([]float64)
	assert.Equal(t, []int{2, 1}, []int(batch.NextObservations.Shape()))
	assert.Equal(t, []float64{2, 4}, next)

	// Index 2 is terminal and index 4 is the newest, so only index 3
	// can ever be sampled
	for i := 0; i < 50; i++ {
		batch, err := p.RandomBatch(4)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 3, 3, 3}, batch.Indices)
		assert.Equal(t, []float64{3, 3, 3, 3, 3, 3, 3, 3},
			batch.Observations.Data())
		assert.Equal(t, []float64{3, 3, 3, 3}, batch.Rewards)
		assert.Equal(t, []float64{3, 3, 3, 3}, batch.Actions.RawMatrix().Data)
		assert.Equal(t, []float64{4, 4, 4, 4}, batch.NextObservations.Data())
	}
}

func TestFrameStackEpisodeIsolation(t *testing.T) {
	frameStack := 4
	p := newScalarPool(t, 50, frameStack)

	// Episodes 1..5, 10..14 and 20..29 where observations in the same
	// episode share the same tens digit
	fill(t, p, []float64{1, 2, 3, 4, 5}, []bool{false, false, false, false,
		true})
	fill(t, p, []float64{10, 11, 12, 13, 14}, []bool{false, false, false,
		false, true})
	for v := 20; v < 30; v++ {
		require.NoError(t, p.AddSample(scalarObs(float64(v)), action(0), 0,
			false))
	}

	assert.Equal(t, []int{5, 5, 5, 6}, p.stack(6))
	assert.Equal(t, []int{10, 10, 10, 10}, p.stack(10))
	assert.Equal(t, []int{10, 11, 12, 13}, p.stack(13))

	for i := 0; i < 100; i++ {
		batch, err := p.RandomBatch(10)
		require.NoError(t, err)

		obs := batch.Observations.Data().([]float64)
		for j := range batch.Indices {
			row := obs[j*frameStack : (j+1)*frameStack]
			episode := int(row[frameStack-1]) / 10
			for k, v := range row {
				assert.Equal(t, episode, int(v)/10, "frame from another "+
					"episode in %v", row)
				if k > 0 {
					assert.LessOrEqual(t, row[k-1], v)
				}
			}
		}
	}
}

func TestRandomBatchAfterWrap(t *testing.T) {
	p := newScalarPool(t, 5, 2)
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	fill(t, p, values, make([]bool, len(values)))
	require.Equal(t, 3, p.bottom)
	require.Equal(t, 3, p.top)

	for i := 0; i < 100; i++ {
		batch, err := p.RandomBatch(4)
		require.NoError(t, err)

		obs := batch.Observations.Data().([]float64)
		next := batch.NextObservations.Data().([]float64)
		for j := range batch.Indices {
			current := obs[2*j+1]
			assert.Equal(t, current-1, obs[2*j])
			assert.Equal(t, current+1, next[j])

			// Observation 7 is the newest and 3, 4 are too close to
			// the bottom of the pool to have a full frame history
			assert.Contains(t, []float64{5, 6}, current)
		}
	}
}

func TestMeanStdValidWindow(t *testing.T) {
	p := newScalarPool(t, 10, 1)
	_, _, err := p.MeanStd()
	assert.True(t, IsInsufficientData(err))
	_, _, err = p.CachedMeanStd()
	assert.True(t, IsInsufficientData(err))

	fill(t, p, []float64{1, 3}, []bool{false, false})
	mean, std, err := p.MeanStd()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2}, mean, 1e-12)
	assert.InDeltaSlice(t, []float64{1}, std, 1e-12)
}

func TestCachedMeanStd(t *testing.T) {
	p, err := New(Config{
		Capacity:         4,
		ObservationShape: []int{2},
		ActionDim:        1,
		FrameStack:       1,
	})
	require.NoError(t, err)

	add := func(a, b float64) {
		obs := tensor.New(tensor.WithShape(2),
			tensor.WithBacking([]float64{a, b}))
		require.NoError(t, p.AddSample(obs, action(0), 0, false))
	}

	add(0, 10)
	add(2, 10)
	mean, std, err := p.CachedMeanStd()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 10}, mean, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0}, std, 1e-12)

	// Mutating returned values must not corrupt the cache
	mean[0] = 100
	again, stdAgain, err := p.CachedMeanStd()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 10}, again, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0}, stdAgain, 1e-12)

	// Fill and wrap the pool, the cache must follow every insertion
	for i := 0; i < 6; i++ {
		add(float64(i), float64(-i))

		cachedMean, cachedStd, err := p.CachedMeanStd()
		require.NoError(t, err)
		freshMean, freshStd, err := p.MeanStd()
		require.NoError(t, err)
		assert.InDeltaSlice(t, freshMean, cachedMean, 1e-12)
		assert.InDeltaSlice(t, freshStd, cachedStd, 1e-12)
	}

	// The pool now holds 2, 3, 4, 5 in the first feature
	mean, _, err = p.CachedMeanStd()
	require.NoError(t, err)
	assert.InDelta(t, 3.5, mean[0], 1e-12)
	assert.InDelta(t, -3.5, mean[1], 1e-12)
}

func TestCachedMeanStdRecomputesOnlyOnChange(t *testing.T) {
	p := newScalarPool(t, 4, 1)
	fill(t, p, []float64{1, 2}, []bool{false, false})

	_, _, err := p.CachedMeanStd()
	require.NoError(t, err)
	first := p.stats.key

	// Overwrite the storage behind the pool's back: a cached value must
	// be returned since the window did not change
	p.observations[0] = 1000
	mean, _, err := p.CachedMeanStd()
	require.NoError(t, err)
	assert.Equal(t, first, p.stats.key)
	assert.InDelta(t, 1.5, mean[0], 1e-12)

	fill(t, p, []float64{3}, []bool{false})
	mean, _, err = p.CachedMeanStd()
	require.NoError(t, err)
	assert.NotEqual(t, first, p.stats.key)
	assert.InDelta(t, 335, mean[0], 1e-12)
}

func TestStandardize(t *testing.T) {
	obs := tensor.New(tensor.WithShape(2, 4),
		tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6, 7, 8}))

	out, err := Standardize(obs, []float64{1, 2}, []float64{2, 0})
	require.NoError(t, err)

	// Rows hold two stacked frames of two features each
	assert.InDeltaSlice(t, []float64{0, 0, 1, 2e8, 2, 4e8, 3, 6e8},
		out.Data().([]float64), 1e-6)

	// The input is left untouched
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, obs.Data())

	_, err = Standardize(obs, []float64{1, 2, 3}, []float64{1, 1, 1})
	assert.Error(t, err)
	_, err = Standardize(obs, []float64{1}, []float64{1, 1})
	assert.Error(t, err)
}

func BenchmarkRandomBatch(b *testing.B) {
	p, err := New(Config{
		Capacity:         10_000,
		ObservationShape: []int{1, 42, 42},
		ActionDim:        1,
		FrameStack:       4,
		Seed:             1,
	})
	if err != nil {
		b.Fatal(err)
	}

	obs := tensor.New(tensor.WithShape(1, 42, 42),
		tensor.WithBacking(make([]float64, 42*42)))
	for i := 0; i < p.Capacity(); i++ {
		if err := p.AddSample(obs, action(0), 0, i%100 == 99); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.RandomBatch(32); err != nil {
			b.Fatal(err)
		}
	}
}
