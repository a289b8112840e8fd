// Package config parses and validates the command line of the training
// binaries.
package config

import (
	"io"
	"strconv"
	"strings"

	arg "github.com/alexflint/go-arg"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/device"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
)

// Args mirrors the command line flags one to one.
type Args struct {
	Epochs       int     `arg:"--ep,help:number of epochs"`
	BatchSize    int     `arg:"--bs,help:batch size"`
	LearningRate float64 `arg:"--lr,help:learning rate"`
	Momentum     float64 `arg:"--mo,help:momentum"`
	WeightDecay  float64 `arg:"--weight-decay,help:L2 penalty applied by SGD"`
	Nesterov     bool    `arg:"--nesterov,help:use Nesterov momentum"`
	ExpName      string  `arg:"--exp-name,help:name of the experiment"`
	Channels     string  `arg:"--channels,help:comma separated channel indices"`

	WeightSegmentation   float64 `arg:"--weight-segmentation,help:weight of the segmentation loss"`
	WeightRegression     float64 `arg:"--weight-regression,help:weight of the regression loss"`
	WeightClassification float64 `arg:"--weight-classification,help:weight of the classification loss"`

	DataDir       string `arg:"--data-dir,help:path to the satellite images"`
	SegLabelDir   string `arg:"--seg-label-dir,help:path to the segmentation labels"`
	RegFile       string `arg:"--reg-file,help:path to the regression/classification label csv"`
	CheckpointDir string `arg:"--checkpoint-dir,help:path to the checkpoint directory"`

	Classes          int     `arg:"--classes,help:number of installation types"`
	Hidden           int     `arg:"--hidden,help:width of the per-pixel encoder"`
	Features         int     `arg:"--features,help:width of the shared trunk"`
	Seed             int64   `arg:"--seed,help:seed for sampling and augmentation and weight init"`
	Device           string  `arg:"--device,help:compute device"`
	Workers          int     `arg:"--workers,help:goroutines loading samples (0 picks from the CPU)"`
	CropSize         int     `arg:"--crop-size,help:side of the random crop applied to larger training tiles"`
	TrainMult        int     `arg:"--train-mult,help:replication factor of the training tiles"`
	SampleFraction   float64 `arg:"--sample-fraction,help:fraction of the training set drawn per epoch"`
	CheckpointFormat string  `arg:"--checkpoint-format,help:proto or json"`
	Compress         bool    `arg:"--compress,help:snappy-compress checkpoints"`
	TrackingDB       string  `arg:"--tracking-db,help:sqlite file for experiment tracking (empty disables)"`
	LogLevel         string  `arg:"--log-level,help:debug|info|warn|error"`

	CometAPIKey      string `arg:"--comet-api-key,env:COMET_API_KEY,help:tracking credential"`
	CometProjectName string `arg:"--comet-project-name,env:COMET_PROJECT_NAME,help:tracking project"`
	CometWorkspace   string `arg:"--comet-workspace,env:COMET_WORKSPACE,help:tracking workspace"`
}

// Description is shown at the top of --help.
func (Args) Description() string {
	return "Joint training of footprint segmentation, generation regression and installation type classification."
}

// DefaultArgs returns the flag defaults.
func DefaultArgs() Args {
	return Args{
		Epochs:               300,
		BatchSize:            32,
		LearningRate:         0.1,
		Momentum:             0.7,
		Channels:             "0,1,2,3,4,5,6,7,8,9,10,11",
		WeightSegmentation:   1,
		WeightRegression:     1,
		WeightClassification: 1,
		DataDir:              "data/images/",
		SegLabelDir:          "data/segmentation_labels/",
		RegFile:              "labels.csv",
		CheckpointDir:        "checkpoints",
		Classes:              3,
		Hidden:               16,
		Features:             32,
		Seed:                 1,
		Device:               "cpu",
		CropSize:             120,
		TrainMult:            4,
		SampleFraction:       2.0 / 3.0,
		CheckpointFormat:     "proto",
		TrackingDB:           "tracking.db",
		LogLevel:             "info",
	}
}

// Weights are the per-task loss weights.
type Weights struct {
	Segmentation   float64
	Regression     float64
	Classification float64
}

// Credentials identify the remote tracking project. All empty means the run
// is tracked locally only.
type Credentials struct {
	APIKey      string
	ProjectName string
	Workspace   string
}

// Config is the validated form of Args.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
	ExpName      string
	Channels     []int
	Weights      Weights

	DataDir       string
	SegLabelDir   string
	RegFile       string
	CheckpointDir string

	Classes          int
	Hidden           int
	Features         int
	Seed             int64
	Device           tensor.DeviceType
	Workers          int
	CropSize         int
	TrainMult        int
	SampleFraction   float64
	CheckpointFormat checkpoints.Format
	Compress         bool
	TrackingDB       string
	LogLevel         string
	Credentials      Credentials
}

// Parse parses args (without the program name) on top of the defaults and
// validates the result. stdout receives the help text for --help, in which
// case the returned error is arg.ErrHelp.
func Parse(args []string, stdout io.Writer) (*Config, error) {
	a := DefaultArgs()
	p, err := arg.NewParser(arg.Config{Program: "train"}, &a)
	if err != nil {
		return nil, errors.WrapConfig(err, "building flag parser")
	}
	if err := p.Parse(args); err != nil {
		if err == arg.ErrHelp {
			p.WriteHelp(stdout)
			return nil, err
		}
		return nil, errors.WrapConfig(err, "parsing flags")
	}
	return a.Validate()
}

// IsHelp reports whether err is the --help sentinel returned by Parse.
func IsHelp(err error) bool {
	return err == arg.ErrHelp
}

// Validate checks the flag values and converts them to a Config.
func (a Args) Validate() (*Config, error) {
	switch {
	case a.Epochs <= 0:
		return nil, errors.Config("--ep must be positive, got %d", a.Epochs)
	case a.BatchSize <= 0:
		return nil, errors.Config("--bs must be positive, got %d", a.BatchSize)
	case a.LearningRate <= 0:
		return nil, errors.Config("--lr must be positive, got %g", a.LearningRate)
	case a.Momentum < 0 || a.Momentum > 1:
		return nil, errors.Config("--mo must be in [0, 1], got %g", a.Momentum)
	case a.WeightDecay < 0:
		return nil, errors.Config("--weight-decay cannot be negative, got %g", a.WeightDecay)
	case a.Nesterov && a.Momentum == 0:
		return nil, errors.Config("--nesterov requires a non-zero momentum")
	case a.WeightSegmentation < 0 || a.WeightRegression < 0 || a.WeightClassification < 0:
		return nil, errors.Config("loss weights cannot be negative")
	case a.Classes < 2:
		return nil, errors.Config("--classes must be at least 2, got %d", a.Classes)
	case a.Hidden <= 0 || a.Features <= 0:
		return nil, errors.Config("--hidden and --features must be positive")
	case a.Workers < 0:
		return nil, errors.Config("--workers cannot be negative, got %d", a.Workers)
	case a.CropSize <= 0:
		return nil, errors.Config("--crop-size must be positive, got %d", a.CropSize)
	case a.TrainMult <= 0:
		return nil, errors.Config("--train-mult must be positive, got %d", a.TrainMult)
	case a.SampleFraction <= 0 || a.SampleFraction > 1:
		return nil, errors.Config("--sample-fraction must be in (0, 1], got %g", a.SampleFraction)
	case a.DataDir == "" || a.SegLabelDir == "" || a.RegFile == "" || a.CheckpointDir == "":
		return nil, errors.Config("--data-dir, --seg-label-dir, --reg-file and --checkpoint-dir are required")
	}

	channels, err := ParseChannels(a.Channels)
	if err != nil {
		return nil, err
	}
	dev, err := device.Parse(a.Device)
	if err != nil {
		return nil, err
	}
	format, err := checkpoints.ParseFormat(a.CheckpointFormat)
	if err != nil {
		return nil, errors.WrapConfig(err, "--checkpoint-format")
	}

	return &Config{
		Epochs:       a.Epochs,
		BatchSize:    a.BatchSize,
		LearningRate: a.LearningRate,
		Momentum:     a.Momentum,
		WeightDecay:  a.WeightDecay,
		Nesterov:     a.Nesterov,
		ExpName:      a.ExpName,
		Channels:     channels,
		Weights: Weights{
			Segmentation:   a.WeightSegmentation,
			Regression:     a.WeightRegression,
			Classification: a.WeightClassification,
		},
		DataDir:          a.DataDir,
		SegLabelDir:      a.SegLabelDir,
		RegFile:          a.RegFile,
		CheckpointDir:    a.CheckpointDir,
		Classes:          a.Classes,
		Hidden:           a.Hidden,
		Features:         a.Features,
		Seed:             a.Seed,
		Device:           dev,
		Workers:          a.Workers,
		CropSize:         a.CropSize,
		TrainMult:        a.TrainMult,
		SampleFraction:   a.SampleFraction,
		CheckpointFormat: format,
		Compress:         a.Compress,
		TrackingDB:       a.TrackingDB,
		LogLevel:         a.LogLevel,
		Credentials: Credentials{
			APIKey:      a.CometAPIKey,
			ProjectName: a.CometProjectName,
			Workspace:   a.CometWorkspace,
		},
	}, nil
}

// ParseChannels turns "0,1,2" into []int{0, 1, 2}. Indices must be
// non-negative and unique.
func ParseChannels(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.Config("--channels cannot be empty")
	}
	seen := make(map[int]bool)
	var channels []int
	for _, part := range strings.Split(s, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.WrapConfig(err, "--channels: bad index %q", part)
		}
		if c < 0 {
			return nil, errors.Config("--channels: negative index %d", c)
		}
		if seen[c] {
			return nil, errors.Config("--channels: duplicate index %d", c)
		}
		seen[c] = true
		channels = append(channels, c)
	}
	return channels, nil
}

// Parameters flattens the configuration for experiment tracking. Credentials
// are left out.
func (c *Config) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"ep":                    c.Epochs,
		"bs":                    c.BatchSize,
		"lr":                    c.LearningRate,
		"mo":                    c.Momentum,
		"weight_decay":          c.WeightDecay,
		"nesterov":              c.Nesterov,
		"exp_name":              c.ExpName,
		"channels":              c.Channels,
		"weight_segmentation":   c.Weights.Segmentation,
		"weight_regression":     c.Weights.Regression,
		"weight_classification": c.Weights.Classification,
		"data_dir":              c.DataDir,
		"seg_label_dir":         c.SegLabelDir,
		"reg_file":              c.RegFile,
		"checkpoint_dir":        c.CheckpointDir,
		"classes":               c.Classes,
		"hidden":                c.Hidden,
		"features":              c.Features,
		"seed":                  c.Seed,
		"device":                c.Device.String(),
		"crop_size":             c.CropSize,
		"train_mult":            c.TrainMult,
		"sample_fraction":       c.SampleFraction,
		"checkpoint_format":     c.CheckpointFormat.String(),
		"compress":              c.Compress,
	}
}
