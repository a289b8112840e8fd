package tensor

import (
	"fmt"
	"strings"
)

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        make([]int, len(t.Shape)),
		Strides:      make([]int, len(t.Strides)),
		DType:        t.DType,
		Device:       t.Device,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)

	switch t.DType {
	case Float32:
		data, ok := t.Data.([]float32)
		if !ok || data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		clone.Data = append([]float32(nil), data...)
	case Int32:
		data, ok := t.Data.([]int32)
		if !ok || data == nil {
			return nil, fmt.Errorf("tensor has nil data")
		}
		clone.Data = append([]int32(nil), data...)
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// Detach returns a copy of t that is cut off from the autograd graph.
func (t *Tensor) Detach() (*Tensor, error) {
	clone, err := t.Clone()
	if err != nil {
		return nil, err
	}
	clone.requiresGrad = false
	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

func (t *Tensor) Size() []int {
	size := make([]int, len(t.Shape))
	copy(size, t.Shape)
	return size
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString("\nData: [")

	n := t.NumElems
	if maxElements > 0 && maxElements < n {
		n = maxElements
	}
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch t.DType {
		case Float32:
			sb.WriteString(fmt.Sprintf("%.4f", t.Data.([]float32)[i]))
		case Int32:
			sb.WriteString(fmt.Sprintf("%d", t.Data.([]int32)[i]))
		}
	}
	if n < t.NumElems {
		sb.WriteString(fmt.Sprintf(", ... (%d more)", t.NumElems-n))
	}
	sb.WriteString("]")
	return sb.String()
}

// ZeroGrad clears the accumulated gradients of the given leaf tensors.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.grad == nil {
			continue
		}
		if data, ok := t.grad.Data.([]float32); ok {
			for i := range data {
				data[i] = 0
			}
		}
	}
}
