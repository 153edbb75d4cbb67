package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-gan/tensor"
)

func TestMSELoss(t *testing.T) {
	pred, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 2, 3, 4})
	target, _ := tensor.NewTensor([]int{2, 2}, tensor.Float32, tensor.CPU, []float32{1, 1, 1, 1})
	pred.SetRequiresGrad(true)

	tests := []struct {
		reduction string
		expected  float64
	}{
		{"mean", 14.0 / 4.0},
		{"sum", 14.0},
		{"", 14.0 / 4.0},
	}

	for _, test := range tests {
		loss, err := NewMSELoss(test.reduction).Forward(pred, target)
		if err != nil {
			t.Fatalf("Forward(%q) failed: %v", test.reduction, err)
		}
		got, _ := loss.Scalar()
		if math.Abs(got-test.expected) > 1e-6 {
			t.Errorf("MSE(%q) = %v, expected %v", test.reduction, got, test.expected)
		}
	}

	loss, _ := NewMSELoss("mean").Forward(pred, target)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	// d/dp mean((p-t)^2) = 2(p-t)/N
	expected := []float32{0, 0.5, 1, 1.5}
	for i, g := range pred.Grad().Data.([]float32) {
		if math.Abs(float64(g-expected[i])) > 1e-6 {
			t.Errorf("grad = %v, expected %v", pred.Grad().Data, expected)
			break
		}
	}
}

func TestBCEWithLogitsLoss(t *testing.T) {
	logits, _ := tensor.Zeros([]int{4, 1}, tensor.Float32, tensor.CPU)
	target, err := Targets(logits, 1)
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}

	loss, err := NewBCEWithLogitsLoss().Forward(logits, target)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	got, _ := loss.Scalar()
	if math.Abs(got-math.Ln2) > 1e-6 {
		t.Errorf("BCE = %v, expected ln 2", got)
	}

	wrong, _ := tensor.Zeros([]int{4}, tensor.Float32, tensor.CPU)
	if _, err := NewBCEWithLogitsLoss().Forward(logits, wrong); err == nil {
		t.Error("expected shape mismatch error")
	}
}
