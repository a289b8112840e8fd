package tensor

import (
	"strings"
	"testing"
)

func TestCloneIsIndependent(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	a.SetRequiresGrad(true)

	clone, err := a.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	clone.Data.([]float32)[0] = 99
	if a.Data.([]float32)[0] != 1 {
		t.Error("Clone shares data with the original")
	}
	if !clone.RequiresGrad() {
		t.Error("Clone should keep requiresGrad")
	}

	detached, err := a.Detach()
	if err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	if detached.RequiresGrad() {
		t.Error("Detach should clear requiresGrad")
	}
}

func TestItem(t *testing.T) {
	a, _ := NewTensor([]int{1}, Float32, CPU, []float32{2.5})
	v, err := a.Item()
	if err != nil || v != 2.5 {
		t.Errorf("Item = %v, %v", v, err)
	}

	b, _ := Zeros([]int{2}, Float32, CPU)
	if _, err := b.Item(); err == nil {
		t.Error("expected error for multi-element tensor")
	}
}

func TestTypedAccessors(t *testing.T) {
	f, _ := Zeros([]int{2}, Float32, CPU)
	if _, err := f.GetInt32Data(); err == nil {
		t.Error("expected dtype error")
	}
	i, _ := Ones([]int{3}, Int32, CPU)
	data, err := i.GetInt32Data()
	if err != nil || len(data) != 3 || data[2] != 1 {
		t.Errorf("GetInt32Data = %v, %v", data, err)
	}
	if i.Dim() != 1 || i.Size()[0] != 3 {
		t.Errorf("Dim/Size = %d %v", i.Dim(), i.Size())
	}
}

func TestPrintDataTruncates(t *testing.T) {
	a, _ := Zeros([]int{10}, Float32, CPU)
	out := a.PrintData(3)
	if !strings.Contains(out, "7 more") {
		t.Errorf("PrintData did not truncate: %s", out)
	}
}

func TestZeroGrad(t *testing.T) {
	w, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	w.SetRequiresGrad(true)
	y, err := MulAutograd(w, w)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	seed, _ := Ones([]int{2}, Float32, CPU)
	if err := Backward([]*Tensor{y}, []*Tensor{seed}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if w.Grad() == nil {
		t.Fatal("expected gradient")
	}
	ZeroGrad([]*Tensor{w})
	for _, g := range w.Grad().Data.([]float32) {
		if g != 0 {
			t.Errorf("gradient not cleared: %v", w.Grad().Data)
		}
	}
}
