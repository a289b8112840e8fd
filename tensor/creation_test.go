package tensor

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestNewTensor(t *testing.T) {
	t.Run("Float32 with data", func(t *testing.T) {
		tensor, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tensor.NumElems != 4 {
			t.Errorf("NumElems = %d, expected 4", tensor.NumElems)
		}
		if !reflect.DeepEqual(tensor.Strides, []int{2, 1}) {
			t.Errorf("Strides = %v", tensor.Strides)
		}
	})

	t.Run("scalar fill", func(t *testing.T) {
		tensor, err := NewTensor([]int{3}, Int32, CPU, int32(7))
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if !reflect.DeepEqual(tensor.Data, []int32{7, 7, 7}) {
			t.Errorf("Data = %v", tensor.Data)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2}); err == nil {
			t.Error("expected error for short data")
		}
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2}, Float32, CPU, []int32{1, 2}); err == nil {
			t.Error("expected error for int data in float tensor")
		}
	})

	t.Run("shape is copied", func(t *testing.T) {
		shape := []int{2}
		tensor, _ := NewTensor(shape, Float32, CPU, nil)
		shape[0] = 5
		if tensor.Shape[0] != 2 {
			t.Error("tensor shape aliases caller slice")
		}
	})
}

func TestZerosAndOnes(t *testing.T) {
	zeros, err := Zeros([]int{2, 3}, Float32, CPU)
	if err != nil {
		t.Fatalf("Zeros failed: %v", err)
	}
	for _, v := range zeros.Data.([]float32) {
		if v != 0 {
			t.Fatalf("Zeros produced %v", v)
		}
	}

	ones, err := Ones([]int{4}, Int32, CPU)
	if err != nil {
		t.Fatalf("Ones failed: %v", err)
	}
	if !reflect.DeepEqual(ones.Data, []int32{1, 1, 1, 1}) {
		t.Errorf("Ones = %v", ones.Data)
	}

	like, err := ZerosLike(zeros)
	if err != nil {
		t.Fatalf("ZerosLike failed: %v", err)
	}
	if !reflect.DeepEqual(like.Shape, []int{2, 3}) {
		t.Errorf("ZerosLike shape = %v", like.Shape)
	}
}

func TestRandomUniform(t *testing.T) {
	a, err := RandomUniform([]int{100}, -0.5, 0.5, rand.New(rand.NewSource(42)), CPU)
	if err != nil {
		t.Fatalf("RandomUniform failed: %v", err)
	}
	for _, v := range a.Data.([]float32) {
		if v < -0.5 || v >= 0.5 {
			t.Fatalf("value %v out of range", v)
		}
	}

	b, _ := RandomUniform([]int{100}, -0.5, 0.5, rand.New(rand.NewSource(42)), CPU)
	if !reflect.DeepEqual(a.Data, b.Data) {
		t.Error("same seed should give same values")
	}

	if _, err := RandomUniform([]int{2}, 0, 1, nil, CPU); err == nil {
		t.Error("expected error for nil rng")
	}
}
