package tensor

import (
	"math"
	"reflect"
	"testing"
)

func TestElementwiseBroadcasting(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{3}, Float32, CPU, []float32{10, 20, 30})

	sum, err := Add(a, bias)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	expected := []float32{11, 22, 33, 14, 25, 36}
	if !reflect.DeepEqual(sum.Data.([]float32), expected) {
		t.Errorf("Add = %v, expected %v", sum.Data, expected)
	}

	col, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{2, 3})
	prod, err := Mul(a, col)
	if err != nil {
		t.Fatalf("Mul failed: %v", err)
	}
	expected = []float32{2, 4, 6, 12, 15, 18}
	if !reflect.DeepEqual(prod.Data.([]float32), expected) {
		t.Errorf("Mul = %v, expected %v", prod.Data, expected)
	}

	bad, _ := Zeros([]int{4}, Float32, CPU)
	if _, err := Sub(a, bad); err == nil {
		t.Error("expected error for incompatible shapes")
	}
}

func TestCompatibilityChecks(t *testing.T) {
	a, _ := Zeros([]int{2}, Float32, CPU)
	b, _ := Zeros([]int{2}, Int32, CPU)
	c, _ := Zeros([]int{2}, Float32, GPU)

	if _, err := Add(a, b); err == nil {
		t.Error("expected dtype mismatch error")
	}
	if _, err := Add(a, c); err == nil {
		t.Error("expected device mismatch error")
	}
}

func TestDivAndLog(t *testing.T) {
	a, _ := NewTensor([]int{2}, Int32, CPU, []int32{4, 6})
	z, _ := NewTensor([]int{2}, Int32, CPU, []int32{2, 0})
	if _, err := Div(a, z); err == nil {
		t.Error("expected integer division by zero error")
	}

	neg, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, -1})
	if _, err := Log(neg); err == nil {
		t.Error("expected error for log of negative value")
	}

	sq, err := Sqrt(neg)
	if err != nil {
		t.Fatalf("Sqrt failed: %v", err)
	}
	if !math.IsNaN(float64(sq.Data.([]float32)[1])) {
		t.Error("Sqrt of a negative value should be NaN")
	}
}

func TestActivations(t *testing.T) {
	x, _ := NewTensor([]int{3}, Float32, CPU, []float32{-2, 0, 2})

	relu, _ := ReLU(x)
	if !reflect.DeepEqual(relu.Data.([]float32), []float32{0, 0, 2}) {
		t.Errorf("ReLU = %v", relu.Data)
	}

	leaky, _ := LeakyReLU(x, 0.5)
	if !reflect.DeepEqual(leaky.Data.([]float32), []float32{-1, 0, 2}) {
		t.Errorf("LeakyReLU = %v", leaky.Data)
	}

	sig, _ := Sigmoid(x)
	if got := sig.Data.([]float32)[1]; got != 0.5 {
		t.Errorf("Sigmoid(0) = %v, expected 0.5", got)
	}

	tanh, _ := Tanh(x)
	if got := tanh.Data.([]float32)[2]; math.Abs(float64(got)-math.Tanh(2)) > 1e-6 {
		t.Errorf("Tanh(2) = %v", got)
	}
}

func TestReductions(t *testing.T) {
	x, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})

	sum, _ := SumAll(x)
	if !reflect.DeepEqual(sum.Shape, []int{1}) || sum.Data.([]float32)[0] != 10 {
		t.Errorf("SumAll = %v %v", sum.Shape, sum.Data)
	}

	mean, _ := Mean(x)
	if mean.Data.([]float32)[0] != 2.5 {
		t.Errorf("Mean = %v, expected 2.5", mean.Data)
	}
}

func TestMatMulAndTranspose(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{7, 8, 9, 10, 11, 12})

	c, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("MatMul failed: %v", err)
	}
	expected := []float32{58, 64, 139, 154}
	if !reflect.DeepEqual(c.Data.([]float32), expected) {
		t.Errorf("MatMul = %v, expected %v", c.Data, expected)
	}

	if _, err := MatMul(a, a); err == nil {
		t.Error("expected error for incompatible inner dimensions")
	}

	at, err := Transpose(a, 0, 1)
	if err != nil {
		t.Fatalf("Transpose failed: %v", err)
	}
	if !reflect.DeepEqual(at.Shape, []int{3, 2}) {
		t.Errorf("Transpose shape = %v", at.Shape)
	}
	if !reflect.DeepEqual(at.Data.([]float32), []float32{1, 4, 2, 5, 3, 6}) {
		t.Errorf("Transpose data = %v", at.Data)
	}
}
