package tensor

import (
	"reflect"
	"testing"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name     string
		shape1   []int
		shape2   []int
		expected []int
		wantErr  bool
	}{
		{"same", []int{2, 3}, []int{2, 3}, []int{2, 3}, false},
		{"bias row", []int{4, 3}, []int{3}, []int{4, 3}, false},
		{"column", []int{4, 1}, []int{1, 5}, []int{4, 5}, false},
		{"scalar", []int{1}, []int{2, 2, 2}, []int{2, 2, 2}, false},
		{"mismatch", []int{2, 3}, []int{4}, nil, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := BroadcastShapes(test.shape1, test.shape2)
			if test.wantErr {
				if err == nil {
					t.Errorf("expected error, got shape %v", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result, test.expected) {
				t.Errorf("BroadcastShapes(%v, %v) = %v, expected %v", test.shape1, test.shape2, result, test.expected)
			}
			if !AreBroadcastable(test.shape1, test.shape2) {
				t.Errorf("AreBroadcastable returned false for %v and %v", test.shape1, test.shape2)
			}
		})
	}
}

func TestBroadcastTensor(t *testing.T) {
	col, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{1, 2})
	result, err := BroadcastTensor(col, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastTensor failed: %v", err)
	}
	if !reflect.DeepEqual(result.Data.([]float32), []float32{1, 1, 1, 2, 2, 2}) {
		t.Errorf("BroadcastTensor = %v", result.Data)
	}

	row, _ := NewTensor([]int{1, 3}, Float32, CPU, []float32{1, 2, 3})
	result, err = BroadcastTensor(row, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastTensor failed: %v", err)
	}
	if !reflect.DeepEqual(result.Data.([]float32), []float32{1, 2, 3, 1, 2, 3}) {
		t.Errorf("BroadcastTensor = %v", result.Data)
	}

	if _, err := BroadcastTensor(row, []int{3}); err == nil {
		t.Error("expected error broadcasting to a smaller shape")
	}
}
