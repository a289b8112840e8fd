package tensor

import (
	"fmt"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape
// This is needed when broadcasting occurred during forward pass
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}

	result := grad
	var err error

	// Sum away the leading dimensions the target never had
	for len(result.Shape) > len(targetShape) {
		result, err = Sum(result, 0, false)
		if err != nil {
			return nil, fmt.Errorf("failed to sum over leading dimension: %v", err)
		}
	}

	// Then every dimension that was broadcast from size 1
	for i := range targetShape {
		if i < len(result.Shape) && targetShape[i] == 1 && result.Shape[i] != 1 {
			result, err = Sum(result, i, true)
			if err != nil {
				return nil, fmt.Errorf("failed to sum over broadcast dimension: %v", err)
			}
		}
	}

	if !shapesEqual(result.Shape, targetShape) {
		result, err = Reshape(result, targetShape)
		if err != nil {
			return nil, fmt.Errorf("failed to reshape gradient: %v", err)
		}
	}
	return result, nil
}

// record attaches op as the creator of result when any input tracks
// gradients. Graphs are only built for tensors that need them.
func record(result *Tensor, op Operation, inputs ...*Tensor) *Tensor {
	for _, in := range inputs {
		if in.requiresGrad {
			result.requiresGrad = true
			result.creator = op
			return result
		}
	}
	result.requiresGrad = false
	return result
}

// AddOp implements the Operation interface for tensor addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("AddOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂(a + b)/∂a = 1, ∂(a + b)/∂b = 1, reduced over broadcast dimensions
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubOp implements the Operation interface for tensor subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("SubOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}

	negGradOut, err := Scale(gradOut, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to negate gradient: %v", err)
	}
	gradB, err := reduceGradientToShape(negGradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulOp implements the Operation interface for element-wise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradA: %v", err)
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradB: %v", err)
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulOp implements the Operation interface for matrix multiplication
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("MatMulOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]
	grads := make([]*Tensor, 2)

	// ∂(A @ B)/∂A = gradOut @ B^T, ∂(A @ B)/∂B = A^T @ gradOut
	if a.requiresGrad {
		bT, err := Transpose(b, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to transpose B: %v", err)
		}
		grads[0], err = MatMul(gradOut, bT)
		if err != nil {
			return nil, fmt.Errorf("backward pass failed for gradA: %v", err)
		}
	}
	if b.requiresGrad {
		aT, err := Transpose(a, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to transpose A: %v", err)
		}
		grads[1], err = MatMul(aT, gradOut)
		if err != nil {
			return nil, fmt.Errorf("backward pass failed for gradB: %v", err)
		}
	}
	return grads, nil
}

// ReLUOp implements the Operation interface for ReLU activation
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReLUOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := ReLU(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂ReLU(x)/∂x = 1 if x > 0, else 0
	grad, err := gradOut.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone gradient: %v", err)
	}

	inputData := op.inputs[0].Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// SigmoidOp implements the Operation interface for Sigmoid activation
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("SigmoidOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Sigmoid(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	op.output = result
	return record(result, op, inputs...), nil
}

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ∂σ(x)/∂x = σ(x) * (1 - σ(x))
	out := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)
	grad := make([]float32, len(out))
	for i, s := range out {
		grad[i] = g[i] * s * (1 - s)
	}
	gradT, err := NewTensor(op.output.Shape, Float32, op.output.Device, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradT}, nil
}

// ReshapeOp implements the Operation interface for reshaping
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("ReshapeOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := Reshape(inputs[0], op.shape)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Reshape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ConcatOp implements the Operation interface for column concatenation
type ConcatOp struct {
	inputs []*Tensor
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("ConcatOp requires exactly 2 inputs")
	}
	op.inputs = inputs

	result, err := ConcatColumns(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *ConcatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rows := gradOut.Shape[0]
	colsA, colsB := op.inputs[0].Shape[1], op.inputs[1].Shape[1]
	g := gradOut.Data.([]float32)

	gradA := make([]float32, rows*colsA)
	gradB := make([]float32, rows*colsB)
	for i := 0; i < rows; i++ {
		row := g[i*(colsA+colsB) : (i+1)*(colsA+colsB)]
		copy(gradA[i*colsA:], row[:colsA])
		copy(gradB[i*colsB:], row[colsA:])
	}

	ta, err := NewTensor([]int{rows, colsA}, Float32, gradOut.Device, gradA)
	if err != nil {
		return nil, err
	}
	tb, err := NewTensor([]int{rows, colsB}, Float32, gradOut.Device, gradB)
	if err != nil {
		return nil, err
	}
	return []*Tensor{ta, tb}, nil
}

// GroupMeanOp implements the Operation interface for GroupMean
type GroupMeanOp struct {
	inputs []*Tensor
	groups int
}

func (op *GroupMeanOp) Inputs() []*Tensor { return op.inputs }

func (op *GroupMeanOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("GroupMeanOp requires exactly 1 input")
	}
	op.inputs = inputs

	result, err := GroupMean(inputs[0], op.groups)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(result, op, inputs...), nil
}

func (op *GroupMeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	rows, cols := in.Shape[0], in.Shape[1]
	per := rows / op.groups
	scale := 1 / float32(per)
	g := gradOut.Data.([]float32)

	grad := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		src := g[(r/per)*cols : (r/per+1)*cols]
		dst := grad[r*cols : (r+1)*cols]
		for j, v := range src {
			dst[j] = v * scale
		}
	}
	t, err := NewTensor(in.Shape, Float32, in.Device, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{t}, nil
}

// High-level autograd functions that create and execute operations

// AddAutograd performs addition with automatic differentiation
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	return (&AddOp{}).Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	return (&SubOp{}).Forward(a, b)
}

// MulAutograd performs multiplication with automatic differentiation
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MulOp{}).Forward(a, b)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MatMulOp{}).Forward(a, b)
}

// ReLUAutograd performs ReLU activation with automatic differentiation
func ReLUAutograd(a *Tensor) (*Tensor, error) {
	return (&ReLUOp{}).Forward(a)
}

// SigmoidAutograd performs Sigmoid activation with automatic differentiation
func SigmoidAutograd(a *Tensor) (*Tensor, error) {
	return (&SigmoidOp{}).Forward(a)
}

// ReshapeAutograd reshapes with automatic differentiation
func ReshapeAutograd(a *Tensor, shape []int) (*Tensor, error) {
	return (&ReshapeOp{shape: append([]int(nil), shape...)}).Forward(a)
}

// ConcatColumnsAutograd concatenates columns with automatic differentiation
func ConcatColumnsAutograd(a, b *Tensor) (*Tensor, error) {
	return (&ConcatOp{}).Forward(a, b)
}

// GroupMeanAutograd averages row groups with automatic differentiation
func GroupMeanAutograd(a *Tensor, groups int) (*Tensor, error) {
	return (&GroupMeanOp{groups: groups}).Forward(a)
}

// Backward propagates grads[i] from roots[i] through the recorded graph and
// accumulates the result into the Grad of every leaf that requires it.
// Several roots may share parts of the graph; their contributions add up.
func Backward(roots []*Tensor, grads []*Tensor) error {
	if len(roots) != len(grads) {
		return fmt.Errorf("backward: %d roots but %d gradients", len(roots), len(grads))
	}

	pending := make(map[*Tensor]*Tensor)
	for i, root := range roots {
		if !root.requiresGrad {
			return fmt.Errorf("backward: root %d does not require gradients", i)
		}
		if !shapesEqual(root.Shape, grads[i].Shape) {
			return fmt.Errorf("backward: gradient shape %v does not match root shape %v", grads[i].Shape, root.Shape)
		}
		if err := accumulate(pending, root, grads[i]); err != nil {
			return err
		}
	}

	order := topologicalOrder(roots)
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		grad, ok := pending[node]
		if !ok {
			continue
		}
		delete(pending, node)

		if node.creator == nil {
			if err := accumulateLeaf(node, grad); err != nil {
				return err
			}
			continue
		}

		inputGrads, err := node.creator.Backward(grad)
		if err != nil {
			return fmt.Errorf("backward: %v", err)
		}
		for j, in := range node.creator.Inputs() {
			if !in.requiresGrad || inputGrads[j] == nil {
				continue
			}
			if err := accumulate(pending, in, inputGrads[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Backward seeds a single-element tensor with gradient 1.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward without an explicit gradient requires a single-element tensor, got shape %v", t.Shape)
	}
	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}
	return Backward([]*Tensor{t}, []*Tensor{seed})
}

func accumulate(pending map[*Tensor]*Tensor, t, grad *Tensor) error {
	existing, ok := pending[t]
	if !ok {
		pending[t] = grad
		return nil
	}
	sum, err := Add(existing, grad)
	if err != nil {
		return fmt.Errorf("backward: failed to accumulate gradient: %v", err)
	}
	pending[t] = sum
	return nil
}

func accumulateLeaf(t, grad *Tensor) error {
	if t.grad == nil {
		clone, err := grad.Clone()
		if err != nil {
			return err
		}
		clone.requiresGrad = false
		t.grad = clone
		return nil
	}
	dst := t.grad.Data.([]float32)
	src := grad.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("backward: gradient size %d does not match accumulated size %d", len(src), len(dst))
	}
	for i, v := range src {
		dst[i] += v
	}
	return nil
}

// topologicalOrder lists every tensor reachable from roots so that each
// tensor appears after all of its inputs.
func topologicalOrder(roots []*Tensor) []*Tensor {
	type frame struct {
		t    *Tensor
		next int
	}

	visited := make(map[*Tensor]bool)
	var order []*Tensor
	for _, root := range roots {
		if visited[root] {
			continue
		}
		visited[root] = true
		stack := []frame{{t: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			var inputs []*Tensor
			if top.t.creator != nil {
				inputs = top.t.creator.Inputs()
			}
			if top.next < len(inputs) {
				in := inputs[top.next]
				top.next++
				if !visited[in] && in.requiresGrad {
					visited[in] = true
					stack = append(stack, frame{t: in})
				}
				continue
			}
			order = append(order, top.t)
			stack = stack[:len(stack)-1]
		}
	}
	return order
}
