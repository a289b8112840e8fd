// Command evaluate scores a saved checkpoint on a tile split and prints the
// confusion matrix of the classification head.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"

	arg "github.com/alexflint/go-arg"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/config"
	"github.com/satlab/multitask/device"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/logging"
	"github.com/satlab/multitask/model"
	"github.com/satlab/multitask/training"
	"github.com/satlab/multitask/vision/dataloader"
	"github.com/satlab/multitask/vision/dataset"
)

type args struct {
	Checkpoint  string `arg:"--checkpoint,required,help:checkpoint file to evaluate"`
	DataDir     string `arg:"--data-dir,help:path to the satellite images"`
	SegLabelDir string `arg:"--seg-label-dir,help:path to the segmentation labels"`
	RegFile     string `arg:"--reg-file,help:path to the regression/classification label csv"`
	Split       string `arg:"--split,help:subdirectory of the data dir to evaluate"`
	Channels    string `arg:"--channels,help:comma separated channel indices used in training"`
	Classes     int    `arg:"--classes,help:number of installation types (0 reads it from the checkpoint)"`
	Hidden      int    `arg:"--hidden,help:width of the per-pixel encoder (0 reads it from the checkpoint)"`
	Features    int    `arg:"--features,help:width of the shared trunk (0 reads it from the checkpoint)"`
	CropSize    int    `arg:"--crop-size,help:side of the centre crop"`
	BatchSize   int    `arg:"--bs,help:batch size"`
	Workers     int    `arg:"--workers,help:goroutines loading samples (0 picks from the CPU)"`
	Device      string `arg:"--device,help:compute device"`
	MaskOut     string `arg:"--mask-out,help:directory for predicted footprint masks (.npy)"`
	LogLevel    string `arg:"--log-level,help:debug|info|warn|error"`
}

func (args) Description() string {
	return "Evaluates a multi-task checkpoint on a split of the satellite tiles."
}

func defaultArgs() args {
	d := config.DefaultArgs()
	return args{
		DataDir:     d.DataDir,
		SegLabelDir: d.SegLabelDir,
		RegFile:     d.RegFile,
		Split:       "validation",
		Channels:    d.Channels,
		CropSize:    d.CropSize,
		BatchSize:   d.BatchSize,
		Device:      d.Device,
		LogLevel:    d.LogLevel,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, afero.NewOsFs(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		kind := errors.KindOf(err)
		fmt.Fprintf(os.Stderr, "evaluate: %s error: %v\n", kind, err)
		os.Exit(kind.ExitCode())
	}
}

func run(ctx context.Context, fs afero.Fs, argv []string, stdout, stderr io.Writer) error {
	a := defaultArgs()
	p, err := arg.NewParser(arg.Config{Program: "evaluate"}, &a)
	if err != nil {
		return errors.WrapConfig(err, "building flag parser")
	}
	if err := p.Parse(argv); err != nil {
		if err == arg.ErrHelp {
			p.WriteHelp(stdout)
			return nil
		}
		return errors.WrapConfig(err, "parsing flags")
	}
	if a.BatchSize <= 0 || a.Workers < 0 {
		return errors.Config("--bs must be positive and --workers non-negative")
	}

	logger, err := logging.NewWithWriters(a.LogLevel, stdout, stderr)
	if err != nil {
		return errors.WrapConfig(err, "--log-level")
	}
	defer logger.Sync()

	channels, err := config.ParseChannels(a.Channels)
	if err != nil {
		return err
	}
	dev, err := device.Parse(a.Device)
	if err != nil {
		return err
	}
	workers := a.Workers
	if workers == 0 {
		workers = device.DefaultWorkers()
	}

	labels, err := dataset.LoadLabels(fs, a.RegFile)
	if err != nil {
		return err
	}
	ds, err := dataset.NewSatelliteDataset(fs, dataset.Config{
		ImageDir: filepath.Join(a.DataDir, a.Split),
		MaskDir:  filepath.Join(a.SegLabelDir, a.Split),
		Channels: channels,
		Mult:     1,
		CropSize: a.CropSize,
	}, labels, nil, logger)
	if err != nil {
		return err
	}
	loader, err := dataloader.NewDataLoader(ds, dataloader.Config{BatchSize: a.BatchSize, Workers: workers, Device: dev})
	if err != nil {
		return err
	}

	ckpt, err := checkpoints.Open(fs, a.Checkpoint)
	if err != nil {
		return errors.WrapConfig(err, "--checkpoint")
	}
	d := config.DefaultArgs()
	classes := size(a.Classes, ckpt.Architecture.Classes, d.Classes)
	net, err := model.New(model.Config{
		Channels:   len(channels),
		WeatherDim: labels.WeatherDim(),
		Classes:    classes,
		Hidden:     size(a.Hidden, ckpt.Architecture.Hidden, d.Hidden),
		Features:   size(a.Features, ckpt.Architecture.Features, d.Features),
		Device:     dev,
	})
	if err != nil {
		return err
	}
	if err := net.LoadState(ckpt); err != nil {
		return err
	}
	logger.Info("loaded checkpoint",
		zap.String("path", a.Checkpoint),
		zap.String("task", ckpt.TrainingState.Task),
		zap.Int("epoch", ckpt.TrainingState.Epoch),
		zap.Float64("metric", ckpt.TrainingState.Metric),
		zap.String("run_id", ckpt.Metadata.RunID))

	ev, err := training.NewEvaluator(net, training.LossWeights{Segmentation: 1, Regression: 1, Classification: 1}, classes)
	if err != nil {
		return err
	}
	if a.MaskOut != "" {
		if err := fs.MkdirAll(a.MaskOut, 0755); err != nil {
			return errors.WrapConfig(err, "--mask-out")
		}
		ev.OnBatch = maskWriter(fs, a.MaskOut)
	}

	result, err := ev.Run(ctx, loader)
	if err != nil {
		return err
	}

	m := result.Metrics
	logger.Info("evaluation",
		zap.String("split", a.Split),
		zap.Int("samples", m.Samples),
		zap.Float64("loss", m.Loss),
		zap.Float64("image_loss", m.Losses.Segmentation),
		zap.Float64("gen_loss", m.Losses.Regression),
		zap.Float64("bin_loss", m.Losses.Classification),
		zap.Float64("iou", m.IoU),
		zap.Int("iou_samples", m.IoUCount),
		zap.Float64("bin_acc", m.Accuracy),
		zap.Float64("macro_f1", result.Confusion.MacroF1()))
	printConfusion(stdout, result.Confusion)
	return nil
}

// size picks the flag value, then the size stored in the checkpoint, then
// the training default.
func size(flag, stored, fallback int) int {
	switch {
	case flag > 0:
		return flag
	case stored > 0:
		return stored
	}
	return fallback
}

// maskWriter stores the thresholded segmentation of every sample as
// <name> in dir, a [H, W] float32 array of zeros and ones.
func maskWriter(fs afero.Fs, dir string) training.BatchHook {
	return func(batch *dataloader.Batch, out *training.Outputs) error {
		h, w := out.Segmentation.Shape[2], out.Segmentation.Shape[3]
		logits := out.Segmentation.Data.([]float32)
		for i, name := range batch.Names {
			pred := training.BinaryMask(logits[i*h*w : (i+1)*h*w])
			mask := make([]float32, len(pred))
			for j, on := range pred {
				if on {
					mask[j] = 1
				}
			}
			if err := writeMask(fs, filepath.Join(dir, name), []int{h, w}, mask); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeMask(fs afero.Fs, path string, shape []int, data []float32) error {
	f, err := fs.Create(path)
	if err != nil {
		return errors.WrapConfig(err, "failed to create %s", path)
	}
	if err := dataset.WriteNPY(f, shape, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %v", path, err)
	}
	return f.Close()
}

func printConfusion(w io.Writer, cm *training.ConfusionMatrix) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "true\\pred\t")
	for c := 0; c < cm.NumClasses; c++ {
		fmt.Fprintf(tw, "%d\t", c)
	}
	fmt.Fprint(tw, "recall\tprecision\t\n")
	for r, row := range cm.Matrix {
		fmt.Fprintf(tw, "%d\t", r)
		for _, n := range row {
			fmt.Fprintf(tw, "%d\t", n)
		}
		fmt.Fprintf(tw, "%.3f\t%.3f\t\n", cm.Recall(r), cm.Precision(r))
	}
	tw.Flush()
	fmt.Fprintf(w, "accuracy %.4f  macro F1 %.4f\n", cm.Accuracy(), cm.MacroF1())
}
