package training

import (
	"context"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/vision/dataloader"
)

// Evaluation is the result of one pass over a loader without updates
type Evaluation struct {
	Metrics   PhaseMetrics
	Confusion *ConfusionMatrix
}

// BatchHook sees every evaluated batch with the model outputs
type BatchHook func(batch *dataloader.Batch, out *Outputs) error

// Evaluator scores a model on a loader in evaluation mode
type Evaluator struct {
	model   MultiTaskModel
	weights LossWeights
	classes int
	heads   headLosses

	// OnBatch, when set, is called after each batch is scored
	OnBatch BatchHook
}

// NewEvaluator creates an evaluator for a model with the given number of
// classes
func NewEvaluator(model MultiTaskModel, weights LossWeights, classes int) (*Evaluator, error) {
	if model == nil {
		return nil, errors.Config("model is required")
	}
	if classes < 2 {
		return nil, errors.Config("need at least 2 classes, got %d", classes)
	}
	return &Evaluator{model: model, weights: weights, classes: classes, heads: newHeadLosses()}, nil
}

// Run evaluates every batch of loader's epoch 0
func (e *Evaluator) Run(ctx context.Context, loader BatchLoader) (*Evaluation, error) {
	e.model.Eval()
	loader.Reset(0)

	confusion := NewConfusionMatrix(e.classes)
	var totals EpochTotals
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := loader.NextBatch()
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d", i)
		}
		if batch == nil {
			break
		}

		out, err := e.model.Forward(batch.Images, batch.Weather)
		if err != nil {
			return nil, errors.WrapData(err, "batch %d: forward pass failed", i)
		}
		res, _, err := e.heads.score(e.weights, out, batch)
		if err != nil {
			return nil, errors.Wrapf(err, "batch %d", i)
		}
		if err := confusion.Update(res.preds, batch.Labels.Data.([]int32)); err != nil {
			return nil, errors.WrapData(err, "batch %d", i)
		}
		totals.Add(res.losses, res.combined, res.accuracy, res.samples, res.ious)

		if e.OnBatch != nil {
			if err := e.OnBatch(batch, out); err != nil {
				return nil, errors.Wrapf(err, "batch %d", i)
			}
		}
	}

	if totals.Batches == 0 {
		return nil, errors.Data("evaluation produced no batches")
	}
	return &Evaluation{Metrics: totals.Summary(), Confusion: confusion}, nil
}
