package dataloader

import (
	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/vision/dataset"
)

// Batch is a collated group of samples
type Batch struct {
	Images  *tensor.Tensor // [N, C, H, W]
	Weather *tensor.Tensor // [N, D]
	Masks   *tensor.Tensor // [N, H, W], values 0 or 1
	Targets *tensor.Tensor // [N, 1] regression targets
	Labels  *tensor.Tensor // [N] int32 class labels
	Names   []string
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Names)
}

// Collate stacks samples into batch tensors. All samples must share image
// shape and weather length.
func Collate(samples []*dataset.Sample, device tensor.DeviceType) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.Data("cannot collate an empty batch")
	}

	first := samples[0]
	c, h, w := first.Image.Channels, first.Image.Height, first.Image.Width
	d := len(first.Weather)
	if d == 0 {
		return nil, errors.Data("sample %s has no weather values", first.Name)
	}

	n := len(samples)
	plane := h * w
	images := make([]float32, 0, n*c*plane)
	masks := make([]float32, 0, n*plane)
	weather := make([]float32, 0, n*d)
	targets := make([]float32, n)
	labels := make([]int32, n)
	names := make([]string, n)

	for i, s := range samples {
		if s.Image.Channels != c || s.Image.Height != h || s.Image.Width != w {
			return nil, errors.Data("sample %s has image shape %v, batch expects [%d %d %d]", s.Name, s.Image.Shape(), c, h, w)
		}
		if s.Mask.Height != h || s.Mask.Width != w || len(s.Mask.Data) != plane {
			return nil, errors.Data("sample %s has mask shape %v, batch expects [1 %d %d]", s.Name, s.Mask.Shape(), h, w)
		}
		if len(s.Weather) != d {
			return nil, errors.Data("sample %s has %d weather values, batch expects %d", s.Name, len(s.Weather), d)
		}
		images = append(images, s.Image.Data...)
		masks = append(masks, s.Mask.Data...)
		weather = append(weather, s.Weather...)
		targets[i] = s.Target
		labels[i] = s.Label
		names[i] = s.Name
	}

	b := &Batch{Names: names}
	var err error
	if b.Images, err = tensor.NewTensor([]int{n, c, h, w}, tensor.Float32, device, images); err != nil {
		return nil, errors.WrapData(err, "images")
	}
	if b.Masks, err = tensor.NewTensor([]int{n, h, w}, tensor.Float32, device, masks); err != nil {
		return nil, errors.WrapData(err, "masks")
	}
	if b.Weather, err = tensor.NewTensor([]int{n, d}, tensor.Float32, device, weather); err != nil {
		return nil, errors.WrapData(err, "weather")
	}
	if b.Targets, err = tensor.NewTensor([]int{n, 1}, tensor.Float32, device, targets); err != nil {
		return nil, errors.WrapData(err, "targets")
	}
	if b.Labels, err = tensor.NewTensor([]int{n}, tensor.Int32, device, labels); err != nil {
		return nil, errors.WrapData(err, "labels")
	}
	return b, nil
}
