package optimizer

import (
	"fmt"

	"github.com/satlab/multitask/checkpoints"
)

// extractBufferState copies a state buffer for checkpointing
func extractBufferState(buffer []float32, shape []int, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}
	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     append([]int(nil), shape...),
		Data:      append([]float32(nil), buffer...),
		StateType: stateType,
	}
}

// restoreBufferState copies checkpointed data into a fresh buffer of the
// expected size
func restoreBufferState(data []float32, expectedElements int, name string) ([]float32, error) {
	if len(data) != expectedElements {
		return nil, fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			name, expectedElements, len(data))
	}
	return append([]float32(nil), data...), nil
}

// extractFloatParam safely extracts a parameter from the state map
func extractFloatParam(params map[string]float64, key string, defaultValue float64) float64 {
	if val, ok := params[key]; ok {
		return val
	}
	return defaultValue
}

// extractBoolParam reads a parameter stored as 0 or 1
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

func extractUint64Param(params map[string]float64, key string, defaultValue uint64) uint64 {
	if val, ok := params[key]; ok && val >= 0 {
		return uint64(val)
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
