package tensor

import (
	"fmt"
)

func getIndex(indices []int, strides []int) int {
	index := 0
	for i, idx := range indices {
		index += idx * strides[i]
	}
	return index
}

func getIndicesFromLinear(linearIndex int, shape []int) []int {
	indices := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		indices[i] = linearIndex % shape[i]
		linearIndex /= shape[i]
	}
	return indices
}

// MatMul multiplies two 2D Float32 tensors.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]
	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)
	resultData := make([]float32, rows1*cols2)

	// i-k-j order keeps the inner loop on contiguous memory.
	for i := 0; i < rows1; i++ {
		out := resultData[i*cols2 : (i+1)*cols2]
		for k := 0; k < cols1; k++ {
			a := data1[i*cols1+k]
			if a == 0 {
				continue
			}
			row := data2[k*cols2 : (k+1)*cols2]
			for j, b := range row {
				out[j] += a * b
			}
		}
	}

	return NewTensor([]int{rows1, cols2}, Float32, t1.Device, resultData)
}

func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) {
		return nil, fmt.Errorf("dim0 %d out of range for tensor with %d dimensions", dim0, len(t.Shape))
	}
	if dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("dim1 %d out of range for tensor with %d dimensions", dim1, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
	}

	outputShape := make([]int, len(t.Shape))
	copy(outputShape, t.Shape)
	outputShape[dim0], outputShape[dim1] = outputShape[dim1], outputShape[dim0]

	result, err := Zeros(outputShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	if len(t.Shape) == 2 {
		rows, cols := t.Shape[0], t.Shape[1]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				resultData[j*rows+i] = data[i*cols+j]
			}
		}
		return result, nil
	}

	for i := 0; i < t.NumElems; i++ {
		indices := getIndicesFromLinear(i, t.Shape)
		indices[dim0], indices[dim1] = indices[dim1], indices[dim0]
		resultData[getIndex(indices, result.Strides)] = data[i]
	}
	return result, nil
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}

	newNumElems := calculateNumElements(newShape)
	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)",
			t.NumElems, newShape, newNumElems)
	}

	result, err := t.Clone()
	if err != nil {
		return nil, err
	}
	result.Shape = append([]int(nil), newShape...)
	result.Strides = calculateStrides(newShape)
	return result, nil
}

func Flatten(t *Tensor) (*Tensor, error) {
	return Reshape(t, []int{t.NumElems})
}

// Sum reduces a Float32 tensor over one dimension.
func Sum(t *Tensor, dim int, keepDim bool) (*Tensor, error) {
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("dim %d out of range for tensor with %d dimensions", dim, len(t.Shape))
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for Sum: %s", t.DType)
	}

	outer := 1
	for _, size := range t.Shape[:dim] {
		outer *= size
	}
	inner := 1
	for _, size := range t.Shape[dim+1:] {
		inner *= size
	}
	reduced := t.Shape[dim]

	var outputShape []int
	if keepDim {
		outputShape = append([]int(nil), t.Shape...)
		outputShape[dim] = 1
	} else {
		outputShape = append(append([]int(nil), t.Shape[:dim]...), t.Shape[dim+1:]...)
		if len(outputShape) == 0 {
			outputShape = []int{1}
		}
	}

	data := t.Data.([]float32)
	resultData := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for r := 0; r < reduced; r++ {
			base := (o*reduced + r) * inner
			for i := 0; i < inner; i++ {
				resultData[o*inner+i] += data[base+i]
			}
		}
	}
	return NewTensor(outputShape, Float32, t.Device, resultData)
}

// ConcatColumns joins two 2D Float32 tensors with the same row count along
// the column dimension.
func ConcatColumns(a, b *Tensor) (*Tensor, error) {
	if err := checkCompatibility(a, b); err != nil {
		return nil, err
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("concat requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("concat row mismatch: %d vs %d", a.Shape[0], b.Shape[0])
	}
	if a.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for ConcatColumns: %s", a.DType)
	}

	rows, colsA, colsB := a.Shape[0], a.Shape[1], b.Shape[1]
	dataA := a.Data.([]float32)
	dataB := b.Data.([]float32)
	out := make([]float32, rows*(colsA+colsB))
	for i := 0; i < rows; i++ {
		copy(out[i*(colsA+colsB):], dataA[i*colsA:(i+1)*colsA])
		copy(out[i*(colsA+colsB)+colsA:], dataB[i*colsB:(i+1)*colsB])
	}
	return NewTensor([]int{rows, colsA + colsB}, Float32, a.Device, out)
}

// GroupMean averages consecutive blocks of rows: a [groups*k, F] tensor
// becomes [groups, F], row g being the mean of rows g*k .. g*k+k-1.
func GroupMean(t *Tensor, groups int) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("group mean requires a 2D tensor, got %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for GroupMean: %s", t.DType)
	}
	if groups <= 0 || t.Shape[0]%groups != 0 {
		return nil, fmt.Errorf("cannot split %d rows into %d groups", t.Shape[0], groups)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	per := rows / groups
	scale := 1 / float32(per)
	data := t.Data.([]float32)
	out := make([]float32, groups*cols)
	for r := 0; r < rows; r++ {
		g := r / per
		src := data[r*cols : (r+1)*cols]
		dst := out[g*cols : (g+1)*cols]
		for j, v := range src {
			dst[j] += v * scale
		}
	}
	return NewTensor([]int{groups, cols}, Float32, t.Device, out)
}

// ChannelsLast turns an [N, C, H, W] image batch into an [N*H*W, C] matrix
// with one row per pixel, rows ordered by sample, then row, then column.
func ChannelsLast(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("channels-last requires a 4D tensor [N, C, H, W], got %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("unsupported dtype for ChannelsLast: %s", t.DType)
	}

	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	plane := h * w
	data := t.Data.([]float32)
	out := make([]float32, n*plane*c)
	for s := 0; s < n; s++ {
		for ch := 0; ch < c; ch++ {
			src := data[(s*c+ch)*plane : (s*c+ch+1)*plane]
			for p, v := range src {
				out[(s*plane+p)*c+ch] = v
			}
		}
	}
	return NewTensor([]int{n * plane, c}, Float32, t.Device, out)
}
