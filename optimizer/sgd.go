package optimizer

import (
	"fmt"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/tensor"
)

// SGD is stochastic gradient descent with optional momentum, weight decay
// and Nesterov momentum. The update follows the usual deep-learning
// convention:
//
//	d = g + weightDecay*p
//	v = momentum*v + d      (v = d on the first step)
//	d = d + momentum*v      (Nesterov) or d = v
//	p = p - lr*d
type SGD struct {
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	params          []*tensor.Tensor
	momentumBuffers [][]float32

	// Step tracking
	StepCount uint64
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGD creates an SGD optimizer over params. Every parameter must be a
// Float32 tensor that requires gradients.
func NewSGD(config SGDConfig, params []*tensor.Tensor) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	// Validate configuration parameters
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}
	if config.Momentum > 1.0 {
		return nil, fmt.Errorf("momentum cannot be greater than 1.0: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("nesterov momentum requires a momentum > 0")
	}

	for i, p := range params {
		if p.DType != tensor.Float32 {
			return nil, fmt.Errorf("parameter %d has dtype %s, expected Float32", i, p.DType)
		}
		if !p.RequiresGrad() {
			return nil, fmt.Errorf("parameter %d does not require gradients", i)
		}
	}

	return &SGD{
		LearningRate:    config.LearningRate,
		Momentum:        config.Momentum,
		WeightDecay:     config.WeightDecay,
		Nesterov:        config.Nesterov,
		params:          params,
		momentumBuffers: make([][]float32, len(params)),
	}, nil
}

// Step performs a single SGD optimization step. Parameters without a
// gradient are left untouched.
func (sgd *SGD) Step() error {
	lr := float32(sgd.LearningRate)
	mu := float32(sgd.Momentum)
	wd := float32(sgd.WeightDecay)

	for i, p := range sgd.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		g := grad.Data.([]float32)
		w := p.Data.([]float32)
		if len(g) != len(w) {
			return fmt.Errorf("gradient size %d does not match parameter %d size %d", len(g), i, len(w))
		}

		if mu == 0 {
			for j := range w {
				w[j] -= lr * (g[j] + wd*w[j])
			}
			continue
		}

		buf := sgd.momentumBuffers[i]
		first := buf == nil
		if first {
			buf = make([]float32, len(w))
			sgd.momentumBuffers[i] = buf
		}
		for j := range w {
			d := g[j] + wd*w[j]
			if first {
				buf[j] = d
			} else {
				buf[j] = mu*buf[j] + d
			}
			if sgd.Nesterov {
				d += mu * buf[j]
			} else {
				d = buf[j]
			}
			w[j] -= lr * d
		}
	}

	sgd.StepCount++
	return nil
}

// ZeroGrad clears the gradients of the managed parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.params)
}

// UpdateLearningRate updates the learning rate
func (sgd *SGD) UpdateLearningRate(newLR float64) {
	sgd.LearningRate = newLR
}

// GetStepCount returns the current step count
func (sgd *SGD) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*OptimizerState, error) {
	var stateData []checkpoints.OptimizerTensor
	for i, buffer := range sgd.momentumBuffers {
		if t := extractBufferState(buffer, sgd.params[i].Shape, fmt.Sprintf("momentum_%d", i), "momentum"); t != nil {
			stateData = append(stateData, *t)
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      boolParam(sgd.Nesterov),
			"step_count":    float64(sgd.StepCount),
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloatParam(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloatParam(state.Parameters, "momentum", sgd.Momentum)
	sgd.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)

	buffers := make([][]float32, len(sgd.params))
	for _, t := range state.StateData {
		if t.StateType != "momentum" {
			continue
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid buffer index in tensor name: %s", t.Name)
		}
		buf, err := restoreBufferState(t.Data, sgd.params[idx].NumElems, t.Name)
		if err != nil {
			return err
		}
		buffers[idx] = buf
	}
	sgd.momentumBuffers = buffers
	return nil
}
