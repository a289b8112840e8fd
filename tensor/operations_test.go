package tensor

import (
	"math"
	"reflect"
	"testing"
)

func TestElementwise(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{4, 3, 2, 1})

	tests := []struct {
		name     string
		op       func(*Tensor, *Tensor) (*Tensor, error)
		expected []float32
	}{
		{"Add", Add, []float32{5, 5, 5, 5}},
		{"Sub", Sub, []float32{-3, -1, 1, 3}},
		{"Mul", Mul, []float32{4, 6, 6, 4}},
		{"Div", Div, []float32{0.25, 2.0 / 3.0, 1.5, 4}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := test.op(a, b)
			if err != nil {
				t.Fatalf("%s failed: %v", test.name, err)
			}
			if !reflect.DeepEqual(result.Data.([]float32), test.expected) {
				t.Errorf("%s = %v, expected %v", test.name, result.Data, test.expected)
			}
		})
	}
}

func TestAddBroadcastsBias(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{3}, Float32, CPU, []float32{10, 20, 30})

	result, err := Add(x, bias)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expected := []float32{11, 22, 33, 14, 25, 36}
	if !reflect.DeepEqual(result.Data.([]float32), expected) {
		t.Errorf("Add = %v, expected %v", result.Data, expected)
	}
}

func TestElementwiseErrors(t *testing.T) {
	a, _ := Zeros([]int{2, 3}, Float32, CPU)
	b, _ := Zeros([]int{4}, Float32, CPU)
	if _, err := Add(a, b); err == nil {
		t.Error("expected shape error")
	}

	i, _ := Zeros([]int{2, 3}, Int32, CPU)
	if _, err := Add(a, i); err == nil {
		t.Error("expected dtype error")
	}
	if _, err := Add(i, i); err == nil {
		t.Error("Int32 arithmetic is not supported")
	}
}

func TestActivations(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, CPU, []float32{-2, -0.5, 0, 3})

	relu, err := ReLU(x)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	if !reflect.DeepEqual(relu.Data.([]float32), []float32{0, 0, 0, 3}) {
		t.Errorf("ReLU = %v", relu.Data)
	}

	sig, err := Sigmoid(x)
	if err != nil {
		t.Fatalf("Sigmoid failed: %v", err)
	}
	for i, v := range x.Data.([]float32) {
		want := 1 / (1 + math.Exp(-float64(v)))
		if math.Abs(float64(sig.Data.([]float32)[i])-want) > 1e-6 {
			t.Errorf("Sigmoid(%v) = %v, expected %v", v, sig.Data.([]float32)[i], want)
		}
	}

	scaled, err := Scale(x, -2)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	if !reflect.DeepEqual(scaled.Data.([]float32), []float32{4, 1, 0, -6}) {
		t.Errorf("Scale = %v", scaled.Data)
	}
}
