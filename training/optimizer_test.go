package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-gan/tensor"
)

// quadratic builds loss = sum(w*w) so the gradient is 2w.
func quadratic(t *testing.T, w *tensor.Tensor) {
	t.Helper()
	sq, err := tensor.MulAutograd(w, w)
	if err != nil {
		t.Fatalf("MulAutograd failed: %v", err)
	}
	loss, err := tensor.SumAutograd(sq)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
}

func TestSGDStep(t *testing.T) {
	w, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, -2})
	w.SetRequiresGrad(true)

	opt := NewSGD([]*tensor.Tensor{w}, 0.1, 0, 0, 0, false)
	quadratic(t, w)
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// w - 0.1 * 2w = 0.8w
	got := w.Data.([]float32)
	if math.Abs(float64(got[0]-0.8)) > 1e-6 || math.Abs(float64(got[1]+1.6)) > 1e-6 {
		t.Errorf("after step w = %v, expected [0.8 -1.6]", got)
	}

	opt.ZeroGrad()
	for _, g := range w.Grad().Data.([]float32) {
		if g != 0 {
			t.Errorf("ZeroGrad left %v", w.Grad().Data)
		}
	}
}

func TestSGDMomentum(t *testing.T) {
	w, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	w.SetRequiresGrad(true)
	opt := NewSGD([]*tensor.Tensor{w}, 0.1, 0.9, 0, 0, false)

	quadratic(t, w)
	opt.Step() // v = 2, w = 1 - 0.2 = 0.8
	opt.ZeroGrad()
	quadratic(t, w)
	opt.Step() // v = 0.9*2 + 1.6 = 3.4, w = 0.8 - 0.34 = 0.46

	if got := w.Data.([]float32)[0]; math.Abs(float64(got)-0.46) > 1e-5 {
		t.Errorf("w = %v, expected 0.46", got)
	}
}

func TestOptimizerSkipsFrozen(t *testing.T) {
	w, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, 2})
	w.SetRequiresGrad(true)
	quadratic(t, w)
	w.SetRequiresGrad(false)

	before := append([]float32(nil), w.Data.([]float32)...)
	for _, opt := range []Optimizer{
		NewSGD([]*tensor.Tensor{w}, 0.1, 0, 0, 0, false),
		NewAdam([]*tensor.Tensor{w}, 0.1, 0.9, 0.999, 1e-8, 0),
	} {
		if err := opt.Step(); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}
	for i, v := range w.Data.([]float32) {
		if math.Float32bits(v) != math.Float32bits(before[i]) {
			t.Errorf("frozen parameter changed: %v -> %v", before, w.Data)
		}
	}

	// A parameter that never received a gradient is skipped as well.
	fresh, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{3})
	fresh.SetRequiresGrad(true)
	if err := NewAdam([]*tensor.Tensor{fresh}, 0.1, 0.9, 0.999, 1e-8, 0).Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if fresh.Data.([]float32)[0] != 3 {
		t.Error("parameter without gradient should not change")
	}
}

func TestAdamStep(t *testing.T) {
	w, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{1, -1})
	w.SetRequiresGrad(true)
	opt := NewAdam([]*tensor.Tensor{w}, 0.01, 0.9, 0.999, 1e-8, 0)

	quadratic(t, w)
	if err := opt.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// The first bias-corrected Adam step moves each weight by lr against the gradient sign.
	got := w.Data.([]float32)
	if math.Abs(float64(got[0])-0.99) > 1e-5 || math.Abs(float64(got[1])+0.99) > 1e-5 {
		t.Errorf("after step w = %v, expected [0.99 -0.99]", got)
	}
	if opt.StepCount() != 1 {
		t.Errorf("StepCount = %d, expected 1", opt.StepCount())
	}

	opt.SetLR(0.5)
	if opt.GetLR() != 0.5 {
		t.Errorf("GetLR = %v, expected 0.5", opt.GetLR())
	}
}
