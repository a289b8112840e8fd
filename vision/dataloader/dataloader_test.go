package dataloader

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/vision/dataset"
	"github.com/satlab/multitask/vision/preprocessing"
)

// memDataset builds 2x2 single-band samples. The image value encodes the
// index and a seed-dependent offset so augmentation randomness is visible.
type memDataset struct {
	n       int
	failAt  int
	weather int
}

func (m *memDataset) Len() int { return m.n }

func (m *memDataset) Item(index int, seed int64) (*dataset.Sample, error) {
	if index == m.failAt {
		return nil, errors.Data("broken sample %d", index)
	}
	jitter := float32(rand.New(rand.NewSource(seed)).Intn(1000)) / 1000
	img, _ := preprocessing.NewTile([]float32{float32(index), jitter, 0, 1}, 1, 2, 2)
	mask, _ := preprocessing.NewTile([]float32{0, 1, 1, 0}, 1, 2, 2)
	weather := make([]float32, m.weather)
	for i := range weather {
		weather[i] = float32(index)
	}
	return &dataset.Sample{
		Name:    fmt.Sprintf("tile_%d", index),
		Image:   img,
		Mask:    mask,
		Weather: weather,
		Target:  float32(index) / 10,
		Label:   int32(index % 2),
	}, nil
}

func newMem(n int) *memDataset {
	return &memDataset{n: n, failAt: -1, weather: 3}
}

func drain(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	var batches []*Batch
	for {
		b, err := dl.NextBatch()
		require.NoError(t, err)
		if b == nil {
			return batches
		}
		batches = append(batches, b)
	}
}

func TestDataLoaderSequential(t *testing.T) {
	dl, err := NewDataLoader(newMem(5), Config{BatchSize: 2, Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, dl.Len())

	batches := drain(t, dl)
	require.Len(t, batches, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{batches[0].Size(), batches[1].Size(), batches[2].Size()})

	b := batches[1]
	assert.Equal(t, []string{"tile_2", "tile_3"}, b.Names)
	assert.Equal(t, []int{2, 1, 2, 2}, b.Images.Shape)
	assert.Equal(t, []int{2, 3}, b.Weather.Shape)
	assert.Equal(t, []int{2, 2, 2}, b.Masks.Shape)
	assert.Equal(t, []int{2, 1}, b.Targets.Shape)
	assert.Equal(t, tensor.Int32, b.Labels.DType)
	assert.Equal(t, []int32{0, 1}, b.Labels.Data.([]int32))
	assert.InDeltaSlice(t, []float32{0.2, 0.3}, b.Targets.Data.([]float32), 1e-6)

	current, total := dl.Progress()
	assert.Equal(t, 3, current)
	assert.Equal(t, 3, total)

	dl.Reset(1)
	current, _ = dl.Progress()
	assert.Equal(t, 0, current)
	assert.Len(t, drain(t, dl), 3)
}

func TestDataLoaderDropLast(t *testing.T) {
	dl, err := NewDataLoader(newMem(5), Config{BatchSize: 2, DropLast: true})
	require.NoError(t, err)
	assert.Equal(t, 2, dl.Len())
	assert.Len(t, drain(t, dl), 2)
}

func TestDataLoaderDeterministicAcrossWorkers(t *testing.T) {
	load := func(workers int, epoch int) [][]float32 {
		sampler, err := NewRandomSampler(20, 12, 7)
		require.NoError(t, err)
		dl, err := NewDataLoader(newMem(20), Config{BatchSize: 4, Workers: workers, Seed: 42, Sampler: sampler})
		require.NoError(t, err)
		dl.Reset(epoch)
		var out [][]float32
		for _, b := range drain(t, dl) {
			out = append(out, b.Images.Data.([]float32))
		}
		return out
	}

	single := load(1, 3)
	assert.Equal(t, single, load(4, 3))
	assert.Equal(t, single, load(8, 3))
	assert.NotEqual(t, single, load(1, 4))
}

func TestDataLoaderErrors(t *testing.T) {
	_, err := NewDataLoader(nil, Config{BatchSize: 1})
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))

	_, err = NewDataLoader(newMem(3), Config{BatchSize: 0})
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))

	ds := newMem(4)
	ds.failAt = 2
	dl, err := NewDataLoader(ds, Config{BatchSize: 4, Workers: 2})
	require.NoError(t, err)
	_, err = dl.NextBatch()
	require.Error(t, err)
	assert.Equal(t, errors.KindData, errors.KindOf(err))
	assert.Contains(t, err.Error(), "broken sample 2")
}

func TestCollate(t *testing.T) {
	ds := newMem(3)
	a, _ := ds.Item(0, 1)
	b, _ := ds.Item(1, 1)

	t.Run("stacks samples", func(t *testing.T) {
		batch, err := Collate([]*dataset.Sample{a, b}, tensor.CPU)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 0, 1, 1, 1}, batch.Weather.Data.([]float32))
		assert.Equal(t, []float32{0, 1, 1, 0, 0, 1, 1, 0}, batch.Masks.Data.([]float32))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Collate(nil, tensor.CPU)
		assert.Equal(t, errors.KindData, errors.KindOf(err))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		big, _ := preprocessing.NewTile(make([]float32, 9), 1, 3, 3)
		odd := *b
		odd.Image = big
		_, err := Collate([]*dataset.Sample{a, &odd}, tensor.CPU)
		assert.Equal(t, errors.KindData, errors.KindOf(err))
	})

	t.Run("weather mismatch", func(t *testing.T) {
		odd := *b
		odd.Weather = []float32{1}
		_, err := Collate([]*dataset.Sample{a, &odd}, tensor.CPU)
		assert.Equal(t, errors.KindData, errors.KindOf(err))
	})

	t.Run("no weather", func(t *testing.T) {
		odd := *a
		odd.Weather = nil
		_, err := Collate([]*dataset.Sample{&odd}, tensor.CPU)
		assert.Equal(t, errors.KindData, errors.KindOf(err))
	})
}
