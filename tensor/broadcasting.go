package tensor

import (
	"fmt"
)

// BroadcastShapes computes the result shape of broadcasting two shapes with
// NumPy rules: dimensions are aligned from the right and must either match
// or be 1.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	result := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		dim1, dim2 := 1, 1
		if idx := len(shape1) - maxDims + i; idx >= 0 {
			dim1 = shape1[idx]
		}
		if idx := len(shape2) - maxDims + i; idx >= 0 {
			dim2 = shape2[idx]
		}

		switch {
		case dim1 == dim2:
			result[i] = dim1
		case dim1 == 1:
			result[i] = dim2
		case dim2 == 1:
			result[i] = dim1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable: dimension %d has sizes %d and %d",
				shape1, shape2, i, dim1, dim2)
		}
	}
	return result, nil
}

func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// BroadcastTensor expands a tensor to a target shape using broadcasting rules
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t.Clone()
	}

	resultShape, err := BroadcastShapes(t.Shape, targetShape)
	if err != nil || !shapesEqual(resultShape, targetShape) {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v", t.Shape, targetShape)
	}

	result, err := Zeros(targetShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		broadcastFloat32Data(t, result)
	default:
		return nil, fmt.Errorf("unsupported data type for broadcasting: %v", t.DType)
	}
	return result, nil
}

// broadcastFloat32Data fills dst from src. When src only lacks leading
// dimensions (a bias row broadcast over a batch) the copy is a simple tiling.
func broadcastFloat32Data(src, dst *Tensor) {
	srcData := src.Data.([]float32)
	dstData := dst.Data.([]float32)

	if isTrailingShape(src.Shape, dst.Shape) {
		n := len(srcData)
		for i := range dstData {
			dstData[i] = srcData[i%n]
		}
		return
	}

	numDims := len(dst.Shape)
	offset := numDims - len(src.Shape)
	srcStrides := calculateStrides(src.Shape)
	coords := make([]int, numDims)
	for dstIdx := range dstData {
		remaining := dstIdx
		for i := numDims - 1; i >= 0; i-- {
			coords[i] = remaining % dst.Shape[i]
			remaining /= dst.Shape[i]
		}

		srcIdx := 0
		for i := 0; i < len(src.Shape); i++ {
			if src.Shape[i] != 1 {
				srcIdx += coords[i+offset] * srcStrides[i]
			}
		}
		dstData[dstIdx] = srcData[srcIdx]
	}
}

// isTrailingShape reports whether shape equals the last dimensions of target
// once leading size-1 dimensions are dropped.
func isTrailingShape(shape, target []int) bool {
	start := 0
	for start < len(shape)-1 && shape[start] == 1 {
		start++
	}
	trimmed := shape[start:]
	if len(trimmed) > len(target) {
		return false
	}
	return shapesEqual(trimmed, target[len(target)-len(trimmed):])
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
