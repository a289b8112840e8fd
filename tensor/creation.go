package tensor

import (
	"fmt"
	"math/rand"
)

func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	tensor := &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Device:   device,
		NumElems: calculateNumElements(shapeCopy),
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, float32(1))
	case Int32:
		return NewTensor(shape, dtype, device, int32(1))
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}
}

// ZerosLike returns a Float32 or Int32 zero tensor with the shape, dtype and
// device of t.
func ZerosLike(t *Tensor) (*Tensor, error) {
	return Zeros(t.Shape, t.DType, t.Device)
}

// RandomUniform fills a Float32 tensor with values drawn from U(low, high)
// using rng, so initialisation is reproducible for a given seed.
func RandomUniform(shape []int, low, high float64, rng *rand.Rand, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source cannot be nil")
	}
	if high < low {
		return nil, fmt.Errorf("invalid range [%f, %f)", low, high)
	}

	data := make([]float32, calculateNumElements(shape))
	for i := range data {
		data[i] = float32(low + rng.Float64()*(high-low))
	}
	return NewTensor(shape, Float32, device, data)
}
