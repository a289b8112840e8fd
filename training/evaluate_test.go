package training

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/vision/dataloader"
)

func TestEvaluator(t *testing.T) {
	m := newScriptedModel(t, threeEpochs[1:2])
	ev, err := NewEvaluator(m, LossWeights{Segmentation: 1, Regression: 1, Classification: 1}, 3)
	require.NoError(t, err)

	var seen []string
	ev.OnBatch = func(batch *dataloader.Batch, out *Outputs) error {
		seen = append(seen, batch.Names...)
		assert.Equal(t, []int{2, 1, 2, 2}, out.Segmentation.Shape)
		return nil
	}

	loader, err := dataloader.NewDataLoader(validationSet(), dataloader.Config{BatchSize: 2})
	require.NoError(t, err)
	result, err := ev.Run(context.Background(), loader)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.npy", "b.npy"}, seen)
	assert.InDelta(t, 1.0/3, result.Metrics.IoU, 1e-9)
	assert.InDelta(t, 0.75, result.Metrics.Losses.Regression, 1e-6)
	assert.Equal(t, 1.0, result.Metrics.Accuracy)
	assert.Equal(t, 2, result.Confusion.TotalSamples)
	assert.Equal(t, 1, result.Confusion.Matrix[0][0])
	assert.Equal(t, 1, result.Confusion.Matrix[1][1])
	assert.False(t, m.training)
}

func TestEvaluatorErrors(t *testing.T) {
	_, err := NewEvaluator(nil, LossWeights{}, 3)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))

	m := newScriptedModel(t, threeEpochs[:1])
	ev, err := NewEvaluator(m, LossWeights{}, 3)
	require.NoError(t, err)
	empty, err := dataloader.NewDataLoader(sliceDataset{}, dataloader.Config{BatchSize: 2})
	require.NoError(t, err)
	_, err = ev.Run(context.Background(), empty)
	assert.Equal(t, errors.KindData, errors.KindOf(err))
}
