// Command train fits the multi-task network on satellite tiles and keeps
// the best checkpoint of every head.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/config"
	"github.com/satlab/multitask/device"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/logging"
	"github.com/satlab/multitask/model"
	"github.com/satlab/multitask/optimizer"
	"github.com/satlab/multitask/tracking"
	"github.com/satlab/multitask/training"
	"github.com/satlab/multitask/vision/dataloader"
	"github.com/satlab/multitask/vision/dataset"
)

// tileCacheSize bounds the decoded tiles kept in memory across epochs
const tileCacheSize = 2048

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, afero.NewOsFs(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		kind := errors.KindOf(err)
		fmt.Fprintf(os.Stderr, "train: %s error: %v\n", kind, err)
		os.Exit(kind.ExitCode())
	}
}

func run(ctx context.Context, fs afero.Fs, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Parse(args, stdout)
	if err != nil {
		if config.IsHelp(err) {
			return nil
		}
		return err
	}

	logger, err := logging.NewWithWriters(cfg.LogLevel, stdout, stderr)
	if err != nil {
		return errors.WrapConfig(err, "--log-level")
	}
	defer logger.Sync()

	workers := cfg.Workers
	if workers == 0 {
		workers = device.DefaultWorkers()
	}
	logger.Info("device",
		zap.Stringer("device", cfg.Device),
		zap.Stringer("cpu", device.Describe()),
		zap.Int("workers", workers))

	labels, err := dataset.LoadLabels(fs, cfg.RegFile)
	if err != nil {
		return err
	}
	if labels.NumClasses() > cfg.Classes {
		return errors.Config("label file has %d installation types, --classes is %d", labels.NumClasses(), cfg.Classes)
	}

	cache := dataset.NewTileCache(tileCacheSize)
	trainSet, validSet, err := loadDatasets(fs, cfg, labels, cache, logger)
	if err != nil {
		return err
	}

	sampler, err := dataloader.NewRandomSampler(trainSet.Len(),
		dataloader.SampleCount(trainSet.Len(), cfg.SampleFraction), cfg.Seed)
	if err != nil {
		return errors.WrapData(err, "training set")
	}
	trainLoader, err := dataloader.NewDataLoader(trainSet, dataloader.Config{
		BatchSize: cfg.BatchSize,
		Workers:   workers,
		Seed:      cfg.Seed,
		Device:    cfg.Device,
		Sampler:   sampler,
	})
	if err != nil {
		return err
	}
	validLoader, err := dataloader.NewDataLoader(validSet, dataloader.Config{
		BatchSize: cfg.BatchSize,
		Workers:   workers,
		Seed:      cfg.Seed,
		Device:    cfg.Device,
	})
	if err != nil {
		return err
	}

	net, err := model.New(model.Config{
		Channels:   len(cfg.Channels),
		WeatherDim: labels.WeatherDim(),
		Classes:    cfg.Classes,
		Hidden:     cfg.Hidden,
		Features:   cfg.Features,
		Seed:       cfg.Seed,
		Device:     cfg.Device,
	})
	if err != nil {
		return err
	}
	training.NewModelArchitecturePrinter("MultiTask").PrintArchitecture(stdout, net.NamedParameters())

	opt, err := optimizer.NewSGD(optimizer.SGDConfig{
		LearningRate: cfg.LearningRate,
		Momentum:     cfg.Momentum,
		WeightDecay:  cfg.WeightDecay,
		Nesterov:     cfg.Nesterov,
	}, net.Parameters())
	if err != nil {
		return errors.WrapConfig(err, "optimizer")
	}

	runParams := checkpoints.RunParams{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		BatchSize:    cfg.BatchSize,
		Momentum:     cfg.Momentum,
	}
	store, err := checkpoints.NewStore(fs, cfg.CheckpointDir, cfg.ExpName, runParams,
		checkpoints.NewSaver(cfg.CheckpointFormat, cfg.Compress), logger)
	if err != nil {
		return errors.WrapConfig(err, "--checkpoint-dir")
	}

	tracker, runID, err := openTracker(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Warn("failed to close tracker", zap.Error(err))
		}
	}()
	if err := tracker.SetName(cfg.ExpName); err != nil {
		logger.Warn("failed to name tracking run", zap.Error(err))
	}
	if err := tracker.LogParameters(cfg.Parameters()); err != nil {
		logger.Warn("failed to record parameters", zap.Error(err))
	}

	trainer, err := training.NewMultiTaskTrainer(net, opt, store, training.TrainerConfig{
		Epochs: cfg.Epochs,
		Weights: training.LossWeights{
			Segmentation:   cfg.Weights.Segmentation,
			Regression:     cfg.Weights.Regression,
			Classification: cfg.Weights.Classification,
		},
		RunParams:    runParams,
		RunID:        runID,
		ModelName:    "MultiTask",
		Architecture: net.Architecture(),
		Progress:     stderr,
	}, logger, tracker)
	if err != nil {
		return err
	}

	if _, err := trainer.Train(ctx, trainLoader, validLoader); err != nil {
		return err
	}

	best := trainer.Best()
	logger.Info("training finished",
		zap.Float64("best_val_iou", best.IoU),
		zap.Float64("best_val_gen_loss", best.Regression),
		zap.Float64("best_val_bin_acc", best.Accuracy),
		zap.Stringer("tile_cache", cache.Stats()))
	return nil
}

// loadDatasets builds the training set from the 120x120 and 300x300 tiles
// and the validation set from the validation tiles.
func loadDatasets(fs afero.Fs, cfg *config.Config, labels *dataset.Labels, cache *dataset.TileCache, logger *zap.Logger) (dataset.Dataset, dataset.Dataset, error) {
	var parts []dataset.Dataset
	for _, sub := range []string{filepath.Join("training", "120x120"), filepath.Join("training", "300x300")} {
		d, err := dataset.NewSatelliteDataset(fs, dataset.Config{
			ImageDir: filepath.Join(cfg.DataDir, sub),
			MaskDir:  filepath.Join(cfg.SegLabelDir, sub),
			Channels: cfg.Channels,
			Mult:     cfg.TrainMult,
			Train:    true,
			CropSize: cfg.CropSize,
		}, labels, cache, logger)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, d)
	}
	trainSet := dataset.Concat(parts...)
	if trainSet.Len() == 0 {
		return nil, nil, errors.Data("no labelled training tiles under %s", filepath.Join(cfg.DataDir, "training"))
	}

	validSet, err := dataset.NewSatelliteDataset(fs, dataset.Config{
		ImageDir: filepath.Join(cfg.DataDir, "validation"),
		MaskDir:  filepath.Join(cfg.SegLabelDir, "validation"),
		Channels: cfg.Channels,
		Mult:     1,
		CropSize: cfg.CropSize,
	}, labels, cache, logger)
	if err != nil {
		return nil, nil, err
	}
	if validSet.Len() == 0 {
		return nil, nil, errors.Data("no labelled validation tiles under %s", filepath.Join(cfg.DataDir, "validation"))
	}
	return trainSet, validSet, nil
}

// openTracker returns the SQLite tracker, or a no-op one when --tracking-db
// is empty. The run id is shared with the checkpoints.
func openTracker(cfg *config.Config, logger *zap.Logger) (tracking.Tracker, string, error) {
	if cfg.TrackingDB == "" {
		return tracking.Nop{}, "", nil
	}
	t, err := tracking.OpenSQLite(cfg.TrackingDB, tracking.Credentials{
		APIKey:      cfg.Credentials.APIKey,
		ProjectName: cfg.Credentials.ProjectName,
		Workspace:   cfg.Credentials.Workspace,
	}, logger)
	if err != nil {
		return nil, "", errors.WrapConfig(err, "--tracking-db")
	}
	return t, t.RunID(), nil
}
