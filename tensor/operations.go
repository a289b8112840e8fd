package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

// elementwise applies f to t1 and t2 after broadcasting them to a common
// shape. Only Float32 is supported.
func elementwise(name string, t1, t2 *Tensor, f func(a, b float32) float32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for %s: %s", name, t1.DType)
	}

	outputShape, err := BroadcastShapes(t1.Shape, t2.Shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	data1, err := expandedFloat32(t1, outputShape)
	if err != nil {
		return nil, err
	}
	data2, err := expandedFloat32(t2, outputShape)
	if err != nil {
		return nil, err
	}

	resultData := make([]float32, len(data1))
	for i := range resultData {
		resultData[i] = f(data1[i], data2[i])
	}
	return NewTensor(outputShape, Float32, t1.Device, resultData)
}

// expandedFloat32 returns the data of t laid out in shape, copying only when
// broadcasting is required.
func expandedFloat32(t *Tensor, shape []int) ([]float32, error) {
	if shapesEqual(t.Shape, shape) {
		return t.Data.([]float32), nil
	}
	expanded, err := BroadcastTensor(t, shape)
	if err != nil {
		return nil, err
	}
	return expanded.Data.([]float32), nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Add", t1, t2, func(a, b float32) float32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Sub", t1, t2, func(a, b float32) float32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Mul", t1, t2, func(a, b float32) float32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Div", t1, t2, func(a, b float32) float32 { return a / b })
}

// unary applies f to every element of a Float32 tensor.
func unary(name string, t *Tensor, f func(float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for %s: %s", name, t.DType)
	}
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, v := range data {
		result[i] = f(v)
	}
	return NewTensor(t.Shape, Float32, t.Device, result)
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unary("Scale", t, func(v float32) float32 { return v * s })
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unary("ReLU", t, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unary("Sigmoid", t, func(v float32) float32 {
		x := float64(v)
		if x >= 0 {
			return float32(1.0 / (1.0 + math.Exp(-x)))
		}
		e := math.Exp(x)
		return float32(e / (1.0 + e))
	})
}
