package tensor

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func leaf(t *testing.T, shape []int, data []float32) *Tensor {
	t.Helper()
	x, err := NewTensor(shape, Float32, CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	x.SetRequiresGrad(true)
	return x
}

func TestAddAutogradBroadcastGradient(t *testing.T) {
	x := leaf(t, []int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := leaf(t, []int{3}, []float32{0, 0, 0})

	y, err := AddAutograd(x, bias)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	if y.IsLeaf() {
		t.Error("result of an autograd op should not be a leaf")
	}

	seed, _ := Ones(y.Shape, Float32, CPU)
	if err := Backward([]*Tensor{y}, []*Tensor{seed}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if !reflect.DeepEqual(bias.Grad().Data.([]float32), []float32{2, 2, 2}) {
		t.Errorf("bias grad = %v, expected [2 2 2]", bias.Grad().Data)
	}
	if !reflect.DeepEqual(x.Grad().Data.([]float32), []float32{1, 1, 1, 1, 1, 1}) {
		t.Errorf("x grad = %v", x.Grad().Data)
	}
}

func TestMulAndSubAutograd(t *testing.T) {
	a := leaf(t, []int{2}, []float32{2, 3})
	b := leaf(t, []int{2}, []float32{5, 7})

	prod, _ := MulAutograd(a, b)
	diff, err := SubAutograd(prod, b)
	if err != nil {
		t.Fatalf("SubAutograd failed: %v", err)
	}
	seed, _ := Ones([]int{2}, Float32, CPU)
	if err := Backward([]*Tensor{diff}, []*Tensor{seed}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d(a*b - b)/da = b, d/db = a - 1
	if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{5, 7}) {
		t.Errorf("a grad = %v", a.Grad().Data)
	}
	if !reflect.DeepEqual(b.Grad().Data.([]float32), []float32{1, 2}) {
		t.Errorf("b grad = %v", b.Grad().Data)
	}
}

func TestMatMulAutogradSkipsConstants(t *testing.T) {
	x, _ := NewTensor([]int{1, 2}, Float32, CPU, []float32{1, 2})
	w := leaf(t, []int{2, 1}, []float32{3, 4})

	y, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	if err := y.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(w.Grad().Data.([]float32), []float32{1, 2}) {
		t.Errorf("w grad = %v", w.Grad().Data)
	}
	if x.Grad() != nil {
		t.Error("constant input should not receive a gradient")
	}
}

func TestBackwardSharedGraphAccumulates(t *testing.T) {
	w := leaf(t, []int{1, 1}, []float32{2})
	h, _ := ReLUAutograd(w)

	// two heads reading the same hidden tensor
	a, _ := MulAutograd(h, h)
	b, _ := AddAutograd(h, h)

	ga, _ := NewTensor([]int{1, 1}, Float32, CPU, []float32{0.5})
	gb, _ := NewTensor([]int{1, 1}, Float32, CPU, []float32{2})
	if err := Backward([]*Tensor{a, b}, []*Tensor{ga, gb}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// 0.5 * 2h + 2 * 2 = 0.5*4 + 4 = 6
	got := w.Grad().Data.([]float32)[0]
	if got != 6 {
		t.Errorf("w grad = %v, expected 6", got)
	}

	// a second pass accumulates
	if err := Backward([]*Tensor{b}, []*Tensor{gb}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if got := w.Grad().Data.([]float32)[0]; got != 10 {
		t.Errorf("w grad after second pass = %v, expected 10", got)
	}
}

func TestBackwardErrors(t *testing.T) {
	c, _ := Zeros([]int{2}, Float32, CPU)
	seed, _ := Ones([]int{2}, Float32, CPU)
	if err := Backward([]*Tensor{c}, []*Tensor{seed}); err == nil {
		t.Error("expected error for root without gradients")
	}

	w := leaf(t, []int{2}, []float32{1, 2})
	if err := Backward([]*Tensor{w}, nil); err == nil {
		t.Error("expected error for mismatched gradient count")
	}
	if err := w.Backward(); err == nil {
		t.Error("expected error for implicit seed on multi-element tensor")
	}
}

// TestNumericGradient compares the gradient of a small network against
// central differences.
func TestNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x, _ := RandomUniform([]int{4, 3}, -1, 1, rng, CPU)
	weather, _ := RandomUniform([]int{2, 1}, -1, 1, rng, CPU)
	w1, _ := RandomUniform([]int{3, 2}, -1, 1, rng, CPU)
	w2, _ := RandomUniform([]int{3, 1}, -1, 1, rng, CPU)
	w1.SetRequiresGrad(true)
	w2.SetRequiresGrad(true)

	forward := func() (*Tensor, error) {
		h, err := MatMulAutograd(x, w1)
		if err != nil {
			return nil, err
		}
		h, err = SigmoidAutograd(h)
		if err != nil {
			return nil, err
		}
		pooled, err := GroupMeanAutograd(h, 2)
		if err != nil {
			return nil, err
		}
		joined, err := ConcatColumnsAutograd(pooled, weather)
		if err != nil {
			return nil, err
		}
		out, err := MatMulAutograd(joined, w2)
		if err != nil {
			return nil, err
		}
		return ReshapeAutograd(out, []int{2})
	}
	loss := func() float64 {
		out, err := forward()
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		var s float64
		for _, v := range out.Data.([]float32) {
			s += float64(v)
		}
		return s
	}

	out, err := forward()
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	seed, _ := Ones([]int{2}, Float32, CPU)
	if err := Backward([]*Tensor{out}, []*Tensor{seed}); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	const eps = 1e-2
	for _, p := range []*Tensor{w1, w2} {
		data := p.Data.([]float32)
		grad := p.Grad().Data.([]float32)
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			up := loss()
			data[i] = orig - eps
			down := loss()
			data[i] = orig

			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-float64(grad[i])) > 1e-3 {
				t.Errorf("gradient mismatch at %d: analytic %v numeric %v", i, grad[i], numeric)
			}
		}
	}
}
