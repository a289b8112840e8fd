package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/satlab/multitask/tensor"
)

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// NamedParameter ties a trainable tensor to its state-dict name, e.g.
// "encoder.weight".
type NamedParameter struct {
	Name   string
	Layer  string
	Type   string // "weight" or "bias"
	Tensor *tensor.Tensor
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	name     string
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer. Weights are drawn from rng with
// Xavier/Glorot uniform initialization; the bias starts at zero.
func NewLinear(name string, inputSize, outputSize int, bias bool, rng *rand.Rand, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("invalid Linear size %dx%d", inputSize, outputSize)
	}

	// W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	// Weight shape is [inputSize, outputSize] so that Forward is a plain x @ W
	weight, err := tensor.RandomUniform([]int{inputSize, outputSize}, -bound, bound, rng, device)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		name:     name,
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b. In training mode the result
// is recorded for backpropagation; in evaluation mode no graph is built.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}
	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("%s: input size mismatch: expected %d, got %d", l.name, l.weight.Shape[0], input.Shape[1])
	}

	matmul, add := tensor.MatMulAutograd, tensor.AddAutograd
	if !l.training {
		matmul, add = tensor.MatMul, tensor.Add
	}

	output, err := matmul(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("%s: matmul failed: %v", l.name, err)
	}
	if l.bias != nil {
		output, err = add(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("%s: bias addition failed: %v", l.name, err)
		}
	}
	return output, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

// NamedParameters returns the parameters with their state-dict names.
func (l *Linear) NamedParameters() []NamedParameter {
	params := []NamedParameter{{Name: l.name + ".weight", Layer: l.name, Type: "weight", Tensor: l.weight}}
	if l.bias != nil {
		params = append(params, NamedParameter{Name: l.name + ".bias", Layer: l.name, Type: "bias", Tensor: l.bias})
	}
	return params
}

func (l *Linear) Weight() *tensor.Tensor { return l.weight }
func (l *Linear) Bias() *tensor.Tensor   { return l.bias }

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// ReLU implements ReLU activation function module
type ReLU struct {
	training bool
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{training: true}
}

// Forward performs ReLU activation
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !r.training {
		return tensor.ReLU(input)
	}
	return tensor.ReLUAutograd(input)
}

// Parameters returns empty slice (ReLU has no parameters)
func (r *ReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

// Train sets the module to training mode
func (r *ReLU) Train() {
	r.training = true
}

// Eval sets the module to evaluation mode
func (r *ReLU) Eval() {
	r.training = false
}

// IsTraining returns true if in training mode
func (r *ReLU) IsTraining() bool {
	return r.training
}

// Sequential chains modules
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward runs the modules in order
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error
	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %v", i, err)
		}
	}
	return output, nil
}

// Parameters returns all parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// NamedParameters collects the named parameters of every Linear in the chain.
func (s *Sequential) NamedParameters() []NamedParameter {
	var params []NamedParameter
	for _, module := range s.modules {
		if l, ok := module.(*Linear); ok {
			params = append(params, l.NamedParameters()...)
		}
	}
	return params
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}
