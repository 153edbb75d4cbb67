package tensor

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func approxEqual(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > tol {
			return false
		}
	}
	return true
}

func TestAutogradMatMulBackward(t *testing.T) {
	x, _ := NewTensor([]int{1, 2}, Float32, CPU, []float32{1, 2})
	w, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{3, 4})
	x.SetRequiresGrad(true)
	w.SetRequiresGrad(true)

	out, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	loss, err := SumAutograd(out)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if got := loss.Data.([]float32)[0]; got != 11 {
		t.Errorf("loss = %v, expected 11", got)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(w.Grad().Data.([]float32), []float32{1, 2}) {
		t.Errorf("w grad = %v, expected [1 2]", w.Grad().Data)
	}
	if !reflect.DeepEqual(x.Grad().Data.([]float32), []float32{3, 4}) {
		t.Errorf("x grad = %v, expected [3 4]", x.Grad().Data)
	}
}

func TestAutogradFrozenLeaves(t *testing.T) {
	t.Run("frozen leaf receives no gradient", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
		b, _ := NewTensor([]int{2}, Float32, CPU, []float32{3, 4})
		a.SetRequiresGrad(true)

		prod, _ := MulAutograd(a, b)
		loss, _ := SumAutograd(prod)
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if b.Grad() != nil {
			t.Error("frozen leaf should not receive a gradient")
		}
		if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{3, 4}) {
			t.Errorf("a grad = %v", a.Grad().Data)
		}
	})

	t.Run("flag is read when backward runs", func(t *testing.T) {
		w, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 1})
		x, _ := NewTensor([]int{2}, Float32, CPU, []float32{5, 6})

		// Graph built while w is frozen, then w is unfrozen before backward.
		prod, _ := MulAutograd(w, x)
		loss, _ := SumAutograd(prod)
		w.SetRequiresGrad(true)

		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if w.Grad() == nil {
			t.Fatal("unfrozen leaf should receive a gradient")
		}
		if !reflect.DeepEqual(w.Grad().Data.([]float32), []float32{5, 6}) {
			t.Errorf("w grad = %v", w.Grad().Data)
		}
	})

	t.Run("nothing to differentiate", func(t *testing.T) {
		a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
		loss, _ := SumAutograd(a)
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		if a.Grad() != nil {
			t.Error("no leaf requires gradients, none should be set")
		}
	})
}

func TestAutogradAccumulation(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{2, 3})
	a.SetRequiresGrad(true)

	// a is used twice in the same graph.
	sq, _ := MulAutograd(a, a)
	loss, _ := SumAutograd(sq)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{4, 6}) {
		t.Errorf("grad = %v, expected [4 6]", a.Grad().Data)
	}

	// A second backward pass accumulates into the same buffer.
	if err := loss.Backward(); err != nil {
		t.Fatalf("second Backward failed: %v", err)
	}
	if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{8, 12}) {
		t.Errorf("accumulated grad = %v, expected [8 12]", a.Grad().Data)
	}

	ZeroGrad([]*Tensor{a})
	if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{0, 0}) {
		t.Errorf("ZeroGrad left %v", a.Grad().Data)
	}
}

func TestAutogradBroadcastBias(t *testing.T) {
	x, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2}, Float32, CPU, []float32{0, 0})
	b.SetRequiresGrad(true)

	out, err := AddAutograd(x, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, _ := MeanAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(b.Grad().Shape, []int{2}) {
		t.Errorf("bias grad shape = %v", b.Grad().Shape)
	}
	if !approxEqual(b.Grad().Data.([]float32), []float32{0.5, 0.5}, 1e-6) {
		t.Errorf("bias grad = %v, expected [0.5 0.5]", b.Grad().Data)
	}
}

func TestAutogradActivations(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(*Tensor) (*Tensor, error)
		input    []float32
		expected []float32
	}{
		{"sigmoid", SigmoidAutograd, []float32{0}, []float32{0.25}},
		{"tanh", TanhAutograd, []float32{0}, []float32{1}},
		{"relu", ReLUAutograd, []float32{-1, 2}, []float32{0, 1}},
		{"leaky relu", func(x *Tensor) (*Tensor, error) { return LeakyReLUAutograd(x, 0.2) }, []float32{-1, 2}, []float32{0.2, 1}},
		{"scale", func(x *Tensor) (*Tensor, error) { return ScaleAutograd(x, -3) }, []float32{1, 2}, []float32{-3, -3}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			x, _ := NewTensor([]int{len(test.input)}, Float32, CPU, test.input)
			x.SetRequiresGrad(true)

			y, err := test.fn(x)
			if err != nil {
				t.Fatalf("forward failed: %v", err)
			}
			loss, _ := SumAutograd(y)
			if err := loss.Backward(); err != nil {
				t.Fatalf("Backward failed: %v", err)
			}
			if !approxEqual(x.Grad().Data.([]float32), test.expected, 1e-6) {
				t.Errorf("grad = %v, expected %v", x.Grad().Data, test.expected)
			}
		})
	}
}

func TestBCEWithLogits(t *testing.T) {
	logits, _ := Zeros([]int{2, 1}, Float32, CPU)
	logits.SetRequiresGrad(true)
	targets, _ := Ones([]int{2, 1}, Float32, CPU)

	loss, err := BCEWithLogitsAutograd(logits, targets)
	if err != nil {
		t.Fatalf("BCEWithLogitsAutograd failed: %v", err)
	}
	if got := loss.Data.([]float32)[0]; math.Abs(float64(got)-math.Ln2) > 1e-6 {
		t.Errorf("loss = %v, expected ln 2", got)
	}

	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !approxEqual(logits.Grad().Data.([]float32), []float32{-0.25, -0.25}, 1e-6) {
		t.Errorf("grad = %v, expected [-0.25 -0.25]", logits.Grad().Data)
	}
	if targets.Grad() != nil {
		t.Error("targets should not receive a gradient")
	}

	t.Run("large logits stay finite", func(t *testing.T) {
		big, _ := NewTensor([]int{2}, Float32, CPU, []float32{100, -100})
		y, _ := NewTensor([]int{2}, Float32, CPU, []float32{0, 1})
		l, err := BCEWithLogitsAutograd(big, y)
		if err != nil {
			t.Fatalf("BCEWithLogitsAutograd failed: %v", err)
		}
		if got := l.Data.([]float32)[0]; math.IsInf(float64(got), 0) || math.Abs(float64(got)-100) > 1e-3 {
			t.Errorf("loss = %v, expected 100", got)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		y, _ := Ones([]int{3}, Float32, CPU)
		if _, err := BCEWithLogitsAutograd(logits, y); err == nil {
			t.Error("expected error for mismatched sizes")
		}
	})
}

func TestConcatAutogradSplitsGradient(t *testing.T) {
	a, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{1, 2})
	b, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{3, 4, 5, 6})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	joined, err := ConcatAutograd(1, a, b)
	if err != nil {
		t.Fatalf("ConcatAutograd failed: %v", err)
	}
	weights, _ := NewTensor([]int{3}, Float32, CPU, []float32{1, 10, 100})
	weighted, _ := MulAutograd(joined, weights)
	loss, _ := SumAutograd(weighted)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	if !reflect.DeepEqual(a.Grad().Data.([]float32), []float32{1, 1}) {
		t.Errorf("a grad = %v", a.Grad().Data)
	}
	if !reflect.DeepEqual(b.Grad().Data.([]float32), []float32{10, 100, 10, 100}) {
		t.Errorf("b grad = %v", b.Grad().Data)
	}
}

func TestReshapeAutograd(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	a.SetRequiresGrad(true)

	flat, err := ReshapeAutograd(a, []int{4})
	if err != nil {
		t.Fatalf("ReshapeAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(flat)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if !reflect.DeepEqual(a.Grad().Shape, []int{2, 2}) {
		t.Errorf("grad shape = %v", a.Grad().Shape)
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	a.SetRequiresGrad(true)
	out, _ := ScaleAutograd(a, 2)
	if err := out.Backward(); err == nil {
		t.Error("expected error for non-scalar output")
	}
}

func TestCheckFiniteGrads(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	a.SetRequiresGrad(true)
	loss, _ := SumAutograd(a)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if err := CheckFiniteGrads([]*Tensor{a}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	a.Grad().Data.([]float32)[1] = float32(math.NaN())
	err := CheckFiniteGrads([]*Tensor{a})
	if !errors.Is(err, ErrNonFiniteGradient) {
		t.Errorf("expected ErrNonFiniteGradient, got %v", err)
	}
}

func TestReaches(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	b, _ := NewTensor([]int{2}, Float32, CPU, []float32{3, 4})
	other, _ := NewTensor([]int{2}, Float32, CPU, []float32{5, 6})

	sum, _ := AddAutograd(a, b)
	loss, _ := SumAutograd(sum)

	if !Reaches(loss, []*Tensor{other, b}) {
		t.Error("expected the loss to reach b")
	}
	if Reaches(loss, []*Tensor{other}) {
		t.Error("expected an unrelated tensor not to be reached")
	}
	if Reaches(loss.Detach(), []*Tensor{a}) {
		t.Error("expected a detached tensor to have no history")
	}
}
