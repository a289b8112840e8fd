package checkpoints

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Task names a head of the multi-task model. Each task keeps its own
// checkpoint directory.
type Task string

const (
	Segmentation   Task = "segmentation"
	Regression     Task = "regression"
	Classification Task = "classification"
)

// Tasks lists every task in a fixed order.
var Tasks = []Task{Segmentation, Regression, Classification}

// Dir is the directory name holding the task's checkpoints.
func (t Task) Dir() string { return string(t) + "_checkpoints" }

// RunParams are the hyperparameters encoded in checkpoint file names.
type RunParams struct {
	Epochs       int
	LearningRate float64
	BatchSize    int
	Momentum     float64
}

// FileName is ep<epochs>_lr<lr>_bs<bs>_mo<mo>_<epoch>.model, e.g.
// ep300_lr1e-01_bs32_mo0.7_004.model for epoch index 4.
func (p RunParams) FileName(epoch int) string {
	return fmt.Sprintf("ep%d_lr%.0e_bs%02d_mo%.1f_%03d.model",
		p.Epochs, p.LearningRate, p.BatchSize, p.Momentum, epoch)
}

// Store writes checkpoints below <root>/<experiment>/<task>_checkpoints.
type Store struct {
	fs     afero.Fs
	dir    string
	params RunParams
	saver  *Saver
	logger *zap.Logger
}

// NewStore creates the experiment directory and the three task directories.
func NewStore(fs afero.Fs, root, experiment string, params RunParams, saver *Saver, logger *zap.Logger) (*Store, error) {
	if saver == nil {
		return nil, fmt.Errorf("checkpoint saver cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(root, experiment)
	for _, task := range Tasks {
		if err := fs.MkdirAll(filepath.Join(dir, task.Dir()), 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %v", err)
		}
	}
	return &Store{fs: fs, dir: dir, params: params, saver: saver, logger: logger}, nil
}

// Dir is the experiment output directory.
func (s *Store) Dir() string { return s.dir }

// Fs is the filesystem the store writes to.
func (s *Store) Fs() afero.Fs { return s.fs }

// Path is where the checkpoint of task at epoch goes.
func (s *Store) Path(task Task, epoch int) string {
	return filepath.Join(s.dir, task.Dir(), s.params.FileName(epoch))
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Save writes ckpt for task at epoch and returns its path.
func (s *Store) Save(task Task, epoch int, ckpt *Checkpoint) (string, error) {
	path := s.Path(task, epoch)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint file: %v", err)
	}

	cw := &countingWriter{w: f}
	if err := s.saver.Save(cw, ckpt); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %v", path, err)
	}

	s.logger.Info("saved checkpoint",
		zap.String("task", string(task)),
		zap.Int("epoch", epoch),
		zap.String("path", path),
		zap.String("size", humanize.Bytes(uint64(cw.n))))
	return path, nil
}

// Load reads the checkpoint at path.
func (s *Store) Load(path string) (*Checkpoint, error) {
	return Open(s.fs, path)
}

// List returns the checkpoint files of task in name order.
func (s *Store) List(task Task) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, filepath.Join(s.dir, task.Dir()))
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) != ".model" {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, task.Dir(), info.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Open reads a checkpoint file in any supported encoding.
func Open(fs afero.Fs, path string) (*Checkpoint, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer f.Close()
	return NewSaver(FormatProto, false).Load(f)
}
