// Package model holds the joint segmentation / regression / classification
// network.
package model

import (
	"fmt"
	"math/rand"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/training"
)

// Config sizes the network
type Config struct {
	Channels   int // input bands
	WeatherDim int
	Classes    int
	Hidden     int // per-pixel encoder width
	Features   int // shared trunk width
	Seed       int64
	Device     tensor.DeviceType
}

// MultiTask encodes every pixel with a shared Linear+ReLU. The segmentation
// head scores each encoded pixel; the per-sample mean of the encodings is
// joined with the weather vector and fed through a trunk into the regression
// and classification heads.
type MultiTask struct {
	config Config

	encoder *training.Sequential // Linear(C -> hidden) + ReLU
	segHead *training.Linear
	trunk   *training.Sequential // Linear(hidden + D -> features) + ReLU
	regHead *training.Linear
	clsHead *training.Linear

	training bool
}

// Architecture returns the layer sizes recorded in checkpoints.
func (m *MultiTask) Architecture() checkpoints.Architecture {
	return checkpoints.Architecture{
		Channels:   m.config.Channels,
		WeatherDim: m.config.WeatherDim,
		Classes:    m.config.Classes,
		Hidden:     m.config.Hidden,
		Features:   m.config.Features,
	}
}

// New builds a MultiTask network with weights drawn from config.Seed
func New(config Config) (*MultiTask, error) {
	if config.Channels <= 0 || config.WeatherDim <= 0 || config.Hidden <= 0 || config.Features <= 0 {
		return nil, errors.Config("invalid model size: channels=%d weather=%d hidden=%d features=%d",
			config.Channels, config.WeatherDim, config.Hidden, config.Features)
	}
	if config.Classes < 2 {
		return nil, errors.Config("classification head needs at least 2 classes, got %d", config.Classes)
	}

	rng := rand.New(rand.NewSource(config.Seed))
	m := &MultiTask{config: config, training: true}

	// creation order fixes the draws from rng
	layers := []struct {
		name    string
		in, out int
	}{
		{"encoder", config.Channels, config.Hidden},
		{"seg_head", config.Hidden, 1},
		{"trunk", config.Hidden + config.WeatherDim, config.Features},
		{"reg_head", config.Features, 1},
		{"cls_head", config.Features, config.Classes},
	}
	linear := make([]*training.Linear, len(layers))
	for i, l := range layers {
		layer, err := training.NewLinear(l.name, l.in, l.out, true, rng, config.Device)
		if err != nil {
			return nil, errors.WrapConfig(err, "failed to create %s", l.name)
		}
		linear[i] = layer
	}

	m.encoder = training.NewSequential(linear[0], training.NewReLU())
	m.segHead = linear[1]
	m.trunk = training.NewSequential(linear[2], training.NewReLU())
	m.regHead = linear[3]
	m.clsHead = linear[4]
	return m, nil
}

// Config returns the size the network was built with
func (m *MultiTask) Config() Config {
	return m.config
}

type component interface {
	training.Module
	NamedParameters() []training.NamedParameter
}

func (m *MultiTask) components() []component {
	return []component{m.encoder, m.segHead, m.trunk, m.regHead, m.clsHead}
}

// Forward runs images [N, C, H, W] and weather [N, D] through the network
func (m *MultiTask) Forward(images, weather *tensor.Tensor) (*training.Outputs, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("images must be [N, C, H, W], got %v", images.Shape)
	}
	n, c, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	if c != m.config.Channels {
		return nil, fmt.Errorf("model expects %d channels, got %d", m.config.Channels, c)
	}
	if len(weather.Shape) != 2 || weather.Shape[0] != n || weather.Shape[1] != m.config.WeatherDim {
		return nil, fmt.Errorf("weather must be [%d %d], got %v", n, m.config.WeatherDim, weather.Shape)
	}

	reshape, groupMean, concat := tensor.ReshapeAutograd, tensor.GroupMeanAutograd, tensor.ConcatColumnsAutograd
	if !m.training {
		reshape, groupMean, concat = tensor.Reshape, tensor.GroupMean, tensor.ConcatColumns
	}

	pixels, err := tensor.ChannelsLast(images)
	if err != nil {
		return nil, err
	}
	encoded, err := m.encoder.Forward(pixels)
	if err != nil {
		return nil, fmt.Errorf("encoder: %v", err)
	}

	seg, err := m.segHead.Forward(encoded)
	if err != nil {
		return nil, err
	}
	if seg, err = reshape(seg, []int{n, 1, h, w}); err != nil {
		return nil, err
	}

	pooled, err := groupMean(encoded, n)
	if err != nil {
		return nil, err
	}
	joined, err := concat(pooled, weather)
	if err != nil {
		return nil, err
	}
	features, err := m.trunk.Forward(joined)
	if err != nil {
		return nil, fmt.Errorf("trunk: %v", err)
	}

	reg, err := m.regHead.Forward(features)
	if err != nil {
		return nil, err
	}
	cls, err := m.clsHead.Forward(features)
	if err != nil {
		return nil, err
	}

	return &training.Outputs{Segmentation: seg, Regression: reg, Classification: cls}, nil
}

// Parameters returns the trainable parameters
func (m *MultiTask) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, c := range m.components() {
		params = append(params, c.Parameters()...)
	}
	return params
}

// NamedParameters returns the state dict in a fixed order
func (m *MultiTask) NamedParameters() []training.NamedParameter {
	var params []training.NamedParameter
	for _, c := range m.components() {
		params = append(params, c.NamedParameters()...)
	}
	return params
}

// Train switches every layer to training mode
func (m *MultiTask) Train() {
	m.training = true
	for _, c := range m.components() {
		c.Train()
	}
}

// Eval switches every layer to evaluation mode; no graph is recorded
func (m *MultiTask) Eval() {
	m.training = false
	for _, c := range m.components() {
		c.Eval()
	}
}

// IsTraining returns true if in training mode
func (m *MultiTask) IsTraining() bool {
	return m.training
}

// LoadState copies the weights of ckpt into the network. Every parameter
// must be present with a matching shape.
func (m *MultiTask) LoadState(ckpt *checkpoints.Checkpoint) error {
	for _, p := range m.NamedParameters() {
		wt, ok := ckpt.Weight(p.Name)
		if !ok {
			return errors.Data("checkpoint has no weight %s", p.Name)
		}
		if !sameShape(wt.Shape, p.Tensor.Shape) {
			return errors.Data("checkpoint weight %s has shape %v, model expects %v", p.Name, wt.Shape, p.Tensor.Shape)
		}
		dst, err := p.Tensor.GetFloat32Data()
		if err != nil {
			return err
		}
		if len(wt.Data) != len(dst) {
			return errors.Data("checkpoint weight %s has %d values, expected %d", p.Name, len(wt.Data), len(dst))
		}
		copy(dst, wt.Data)
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
