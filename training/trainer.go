package training

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/optimizer"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/tracking"
	"github.com/satlab/multitask/vision/dataloader"
)

// Outputs are the three head outputs of one forward pass.
type Outputs struct {
	Segmentation   *tensor.Tensor // [N, 1, H, W] logits
	Regression     *tensor.Tensor // [N, 1]
	Classification *tensor.Tensor // [N, K] logits
}

// MultiTaskModel is a network with a segmentation, a regression and a
// classification head over (images, weather).
type MultiTaskModel interface {
	Forward(images, weather *tensor.Tensor) (*Outputs, error)
	Parameters() []*tensor.Tensor
	NamedParameters() []NamedParameter
	Train()
	Eval()
}

// BatchLoader yields the batches of one epoch. NextBatch returns nil, nil
// once the epoch is exhausted.
type BatchLoader interface {
	Len() int
	Reset(epoch int)
	NextBatch() (*dataloader.Batch, error)
}

// TrainerConfig holds configuration for training
type TrainerConfig struct {
	Epochs    int
	Weights   LossWeights
	RunParams checkpoints.RunParams
	RunID     string
	ModelName string

	// Architecture is stored with every checkpoint
	Architecture checkpoints.Architecture

	// Progress receives the per-phase progress bars; nil disables them
	Progress io.Writer
}

// EpochMetrics holds metrics for a single epoch
type EpochMetrics struct {
	Epoch      int
	Train      PhaseMetrics
	Validation PhaseMetrics
	Saved      map[checkpoints.Task]string
	Duration   time.Duration
}

// TrackerMetrics flattens the epoch into the names used by the tracker.
func (m EpochMetrics) TrackerMetrics() map[string]float64 {
	return map[string]float64{
		"train_loss":       m.Train.Loss,
		"train_image_loss": m.Train.Losses.Segmentation,
		"train_gen_loss":   m.Train.Losses.Regression,
		"train_bin_loss":   m.Train.Losses.Classification,
		"val_loss":         m.Validation.Loss,
		"val_image_loss":   m.Validation.Losses.Segmentation,
		"val_gen_loss":     m.Validation.Losses.Regression,
		"val_bin_loss":     m.Validation.Losses.Classification,
		"train_iou":        m.Train.IoU,
		"val_iou":          m.Validation.IoU,
		"train_bin_acc":    m.Train.Accuracy,
		"val_bin_acc":      m.Validation.Accuracy,
	}
}

// MultiTaskTrainer runs the epoch loop: a training phase, a validation phase
// and a per-task checkpoint decision.
type MultiTaskTrainer struct {
	model     MultiTaskModel
	optimizer optimizer.Optimizer
	store     *checkpoints.Store
	config    TrainerConfig
	logger    *zap.Logger
	tracker   tracking.Tracker

	heads headLosses

	best    *BestMetrics
	history *VisualizationCollector
	steps   int
}

// NewMultiTaskTrainer creates a new MultiTaskTrainer. A nil logger or
// tracker is replaced by a no-op.
func NewMultiTaskTrainer(
	model MultiTaskModel,
	opt optimizer.Optimizer,
	store *checkpoints.Store,
	config TrainerConfig,
	logger *zap.Logger,
	tracker tracking.Tracker,
) (*MultiTaskTrainer, error) {
	if model == nil || opt == nil || store == nil {
		return nil, errors.Config("model, optimizer and checkpoint store are required")
	}
	if config.Epochs <= 0 {
		return nil, errors.Config("epochs must be positive, got %d", config.Epochs)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	if config.ModelName == "" {
		config.ModelName = "MultiTask"
	}

	return &MultiTaskTrainer{
		model:     model,
		optimizer: opt,
		store:     store,
		config:    config,
		logger:    logger,
		tracker:   tracker,
		heads:     newHeadLosses(),
		best:      NewBestMetrics(),
		history:   NewVisualizationCollector(config.ModelName),
	}, nil
}

// Best returns the best validation values seen so far.
func (t *MultiTaskTrainer) Best() BestMetrics {
	return *t.best
}

// Train runs the complete training loop and returns the per-epoch metrics.
// Cancelling ctx stops the loop between batches.
func (t *MultiTaskTrainer) Train(ctx context.Context, trainLoader, validLoader BatchLoader) ([]EpochMetrics, error) {
	t.logger.Info("starting training",
		zap.Int("epochs", t.config.Epochs),
		zap.Int("train_batches", trainLoader.Len()),
		zap.Int("val_batches", validLoader.Len()),
		zap.String("checkpoint_dir", t.store.Dir()),
	)

	var history []EpochMetrics
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()

		t.model.Train()
		trainMetrics, err := t.runPhase(ctx, trainLoader, epoch, true)
		if err != nil {
			return history, errors.Wrapf(err, "training epoch %d failed", epoch)
		}

		t.model.Eval()
		validMetrics, err := t.runPhase(ctx, validLoader, epoch, false)
		if err != nil {
			return history, errors.Wrapf(err, "validation epoch %d failed", epoch)
		}

		if math.IsNaN(validMetrics.IoU) {
			t.logger.Warn("validation IoU undefined: no sample had both masks non-empty",
				zap.Int("epoch", epoch), zap.Int("samples", validMetrics.Samples))
		}

		metrics := EpochMetrics{
			Epoch:      epoch,
			Train:      trainMetrics,
			Validation: validMetrics,
			Saved:      make(map[checkpoints.Task]string),
		}
		for _, task := range t.best.Update(validMetrics) {
			path, err := t.saveCheckpoint(task, epoch)
			if err != nil {
				return history, err
			}
			metrics.Saved[task] = path
		}
		metrics.Duration = time.Since(epochStart)

		t.logEpoch(metrics)
		if err := t.tracker.LogMetrics(epoch, metrics.TrackerMetrics()); err != nil {
			t.logger.Warn("failed to record metrics", zap.Int("epoch", epoch), zap.Error(err))
		}
		t.history.RecordEpoch(metrics)
		history = append(history, metrics)
	}

	if t.history.Len() >= 2 {
		written, err := t.history.WritePlots(t.store.Fs(), t.store.Dir())
		if err != nil {
			t.logger.Warn("failed to write training curves", zap.Error(err))
		} else {
			t.logger.Info("wrote training curves", zap.Strings("files", written))
		}
	}
	return history, nil
}

func (t *MultiTaskTrainer) runPhase(ctx context.Context, loader BatchLoader, epoch int, train bool) (PhaseMetrics, error) {
	phase, label := "validation", "val Loss"
	if train {
		phase, label = "training", "Train Loss"
	}

	loader.Reset(epoch)
	bar := NewProgressBar(t.config.Progress, fmt.Sprintf("%s: %.4f", label, 0.0), loader.Len())

	var totals EpochTotals
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return PhaseMetrics{}, err
		}
		batch, err := loader.NextBatch()
		if err != nil {
			return PhaseMetrics{}, errors.Wrapf(err, "batch %d", i)
		}
		if batch == nil {
			break
		}

		res, err := t.processBatch(batch, train)
		if err != nil {
			return PhaseMetrics{}, errors.Wrapf(err, "batch %d", i)
		}
		totals.Add(res.losses, res.combined, res.accuracy, res.samples, res.ious)

		bar.SetDescription(fmt.Sprintf("%s: %.4f", label, totals.MeanLoss()))
		bar.Update(i+1, nil)
	}
	bar.Finish()

	if totals.Batches == 0 {
		return PhaseMetrics{}, errors.Data("%s phase produced no batches", phase)
	}
	return totals.Summary(), nil
}

// processBatch runs forward, losses and metrics for one batch; in training
// mode it also backpropagates the weighted loss and steps the optimizer.
func (t *MultiTaskTrainer) processBatch(batch *dataloader.Batch, train bool) (*batchResult, error) {
	if train {
		t.optimizer.ZeroGrad()
	}

	out, err := t.model.Forward(batch.Images, batch.Weather)
	if err != nil {
		return nil, errors.WrapData(err, "forward pass failed")
	}

	res, masks, err := t.heads.score(t.config.Weights, out, batch)
	if err != nil {
		return nil, err
	}

	if train {
		if err := t.heads.backward(t.config.Weights, out, masks, batch); err != nil {
			return nil, err
		}
		if err := t.optimizer.Step(); err != nil {
			return nil, errors.WrapNumeric(err, "optimizer step failed")
		}
		t.steps++
	}
	return res, nil
}

// taskMetric is the validation value that selected the checkpoint
func taskMetric(task checkpoints.Task, best *BestMetrics) float64 {
	switch task {
	case checkpoints.Segmentation:
		return best.IoU
	case checkpoints.Regression:
		return best.Regression
	default:
		return best.Accuracy
	}
}

// Snapshot copies the current parameters and optimizer state into a
// checkpoint.
func (t *MultiTaskTrainer) Snapshot(task checkpoints.Task, epoch int) (*checkpoints.Checkpoint, error) {
	params := t.model.NamedParameters()
	weights := make([]checkpoints.WeightTensor, 0, len(params))
	for _, p := range params {
		data, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return nil, errors.WrapData(err, "parameter %s", p.Name)
		}
		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  append([]float32(nil), data...),
			Layer: p.Layer,
			Type:  p.Type,
		})
	}

	optState, err := t.optimizer.GetState()
	if err != nil {
		return nil, errors.WrapData(err, "failed to extract optimizer state")
	}

	rp := t.config.RunParams
	return &checkpoints.Checkpoint{
		Weights: weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         t.steps,
			Task:         string(task),
			Metric:       taskMetric(task, t.best),
			LearningRate: rp.LearningRate,
			BatchSize:    rp.BatchSize,
			Momentum:     rp.Momentum,
		},
		OptimizerState: optState,
		Architecture:   t.config.Architecture,
		Metadata: checkpoints.Metadata{
			RunID:       t.config.RunID,
			Description: fmt.Sprintf("best %s at epoch %d", task, epoch),
			Tags:        []string{string(task), t.config.ModelName},
		},
	}, nil
}

func (t *MultiTaskTrainer) saveCheckpoint(task checkpoints.Task, epoch int) (string, error) {
	ckpt, err := t.Snapshot(task, epoch)
	if err != nil {
		return "", err
	}
	path, err := t.store.Save(task, epoch, ckpt)
	if err != nil {
		return "", errors.WrapConfig(err, "failed to save %s checkpoint", task)
	}
	return path, nil
}

func (t *MultiTaskTrainer) logEpoch(m EpochMetrics) {
	saved := make([]string, 0, len(m.Saved))
	for _, task := range checkpoints.Tasks {
		if _, ok := m.Saved[task]; ok {
			saved = append(saved, string(task))
		}
	}

	t.logger.Info("epoch complete",
		zap.Int("epoch", m.Epoch+1),
		zap.Int("epochs", t.config.Epochs),
		zap.Float64("train_loss", m.Train.Loss),
		zap.Float64("train_image_loss", m.Train.Losses.Segmentation),
		zap.Float64("train_gen_loss", m.Train.Losses.Regression),
		zap.Float64("train_bin_loss", m.Train.Losses.Classification),
		zap.Float64("val_loss", m.Validation.Loss),
		zap.Float64("val_image_loss", m.Validation.Losses.Segmentation),
		zap.Float64("val_gen_loss", m.Validation.Losses.Regression),
		zap.Float64("val_bin_loss", m.Validation.Losses.Classification),
		zap.Float64("train_iou", m.Train.IoU),
		zap.Float64("val_iou", m.Validation.IoU),
		zap.Float64("train_bin_acc", m.Train.Accuracy),
		zap.Float64("val_bin_acc", m.Validation.Accuracy),
		zap.Strings("saved", saved),
		zap.Duration("duration", m.Duration),
	)
}
