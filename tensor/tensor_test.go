package tensor

import (
	"reflect"
	"testing"
)

func TestDTypeString(t *testing.T) {
	tests := []struct {
		dtype    DType
		expected string
	}{
		{Float32, "Float32"},
		{Int32, "Int32"},
		{DType(999), "Unknown"},
	}

	for _, test := range tests {
		if result := test.dtype.String(); result != test.expected {
			t.Errorf("DType.String() = %s, expected %s", result, test.expected)
		}
	}
}

func TestDeviceTypeString(t *testing.T) {
	if CPU.String() != "CPU" {
		t.Errorf("CPU.String() = %s", CPU.String())
	}
	if DeviceType(999).String() != "Unknown" {
		t.Errorf("unknown device should print as Unknown")
	}
}

func TestCalculateStrides(t *testing.T) {
	tests := []struct {
		shape    []int
		expected []int
	}{
		{[]int{}, []int{}},
		{[]int{5}, []int{1}},
		{[]int{2, 3}, []int{3, 1}},
		{[]int{2, 3, 4}, []int{12, 4, 1}},
		{[]int{1, 5, 1, 3}, []int{15, 3, 3, 1}},
	}

	for _, test := range tests {
		result := calculateStrides(test.shape)
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("calculateStrides(%v) = %v, expected %v", test.shape, result, test.expected)
		}
	}
}

func TestCalculateNumElements(t *testing.T) {
	tests := []struct {
		shape    []int
		expected int
	}{
		{[]int{}, 0},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{4, 1, 120, 120}, 57600},
	}

	for _, test := range tests {
		if result := calculateNumElements(test.shape); result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestValidateShape(t *testing.T) {
	tests := []struct {
		shape   []int
		wantErr bool
	}{
		{[]int{1}, false},
		{[]int{2, 3}, false},
		{[]int{}, true},
		{[]int{0}, true},
		{[]int{2, -1}, true},
	}

	for _, test := range tests {
		err := validateShape(test.shape)
		if (err != nil) != test.wantErr {
			t.Errorf("validateShape(%v) error = %v, wantErr %v", test.shape, err, test.wantErr)
		}
	}
}

func TestTensorRequiresGrad(t *testing.T) {
	tensor, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	if tensor.RequiresGrad() {
		t.Error("new tensors should not require gradients")
	}
	tensor.SetRequiresGrad(true)
	if !tensor.RequiresGrad() {
		t.Error("SetRequiresGrad(true) did not stick")
	}
	if !tensor.IsLeaf() {
		t.Error("user-created tensors are leaves")
	}
	if tensor.Grad() != nil {
		t.Error("gradient should be nil before backward")
	}
}
