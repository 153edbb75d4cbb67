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
		{Float16, "Float16"},
		{Int32, "Int32"},
		{DType(999), "Unknown"},
	}

	for _, test := range tests {
		result := test.dtype.String()
		if result != test.expected {
			t.Errorf("DType.String() = %s, expected %s", result, test.expected)
		}
	}
}

func TestDeviceTypeString(t *testing.T) {
	tests := []struct {
		device   DeviceType
		expected string
	}{
		{CPU, "CPU"},
		{GPU, "GPU"},
		{DeviceType(999), "Unknown"},
	}

	for _, test := range tests {
		result := test.device.String()
		if result != test.expected {
			t.Errorf("DeviceType.String() = %s, expected %s", result, test.expected)
		}
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
		{[]int{}, 1},
		{[]int{5}, 5},
		{[]int{2, 3}, 6},
		{[]int{1, 5, 1, 3}, 15},
	}

	for _, test := range tests {
		result := calculateNumElements(test.shape)
		if result != test.expected {
			t.Errorf("calculateNumElements(%v) = %d, expected %d", test.shape, result, test.expected)
		}
	}
}

func TestNewTensor(t *testing.T) {
	t.Run("valid float data", func(t *testing.T) {
		tensor, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tensor.NumElems != 4 {
			t.Errorf("NumElems = %d, expected 4", tensor.NumElems)
		}
		if !tensor.IsLeaf() {
			t.Error("new tensor should be a leaf")
		}
		if tensor.ByteSize() != 16 {
			t.Errorf("ByteSize = %d, expected 16", tensor.ByteSize())
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3}); err == nil {
			t.Error("expected error for mismatched data length")
		}
	})

	t.Run("zero dimension", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 0}, Float32, CPU, nil); err == nil {
			t.Error("expected error for zero-sized dimension")
		}
	})

	t.Run("wrong data type", func(t *testing.T) {
		if _, err := NewTensor([]int{2}, Int32, CPU, []float32{1, 2}); err == nil {
			t.Error("expected error for float data in Int32 tensor")
		}
	})
}

func TestFullAndFromLabels(t *testing.T) {
	full, err := Full([]int{3}, 2.5, Float32, CPU)
	if err != nil {
		t.Fatalf("Full failed: %v", err)
	}
	if !reflect.DeepEqual(full.Data.([]float32), []float32{2.5, 2.5, 2.5}) {
		t.Errorf("Full data = %v", full.Data)
	}

	labels, err := FromLabels([]int{0, 2, 1}, GPU)
	if err != nil {
		t.Fatalf("FromLabels failed: %v", err)
	}
	if labels.DType != Int32 || labels.Device != GPU {
		t.Errorf("FromLabels produced %s on %s", labels.DType, labels.Device)
	}
	if !reflect.DeepEqual(labels.Data.([]int32), []int32{0, 2, 1}) {
		t.Errorf("FromLabels data = %v", labels.Data)
	}

	if _, err := FromLabels(nil, CPU); err == nil {
		t.Error("expected error for empty labels")
	}
}

func TestSetDataSharesBuffer(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	view, err := a.Reshape([]int{4})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}

	if err := a.SetData([]float32{9, 8, 7, 6}); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if !reflect.DeepEqual(view.Data.([]float32), []float32{9, 8, 7, 6}) {
		t.Errorf("view did not observe update: %v", view.Data)
	}

	if err := a.SetData([]float32{1}); err == nil {
		t.Error("expected error for short data")
	}
}

func TestReshapeInference(t *testing.T) {
	a, _ := Zeros([]int{2, 6}, Float32, CPU)

	r, err := a.Reshape([]int{3, -1})
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !reflect.DeepEqual(r.Shape, []int{3, 4}) {
		t.Errorf("shape = %v, expected [3 4]", r.Shape)
	}

	if _, err := a.Reshape([]int{5, -1}); err == nil {
		t.Error("expected error for indivisible -1 reshape")
	}
	if _, err := a.Reshape([]int{-1, -1}); err == nil {
		t.Error("expected error for two inferred dimensions")
	}
}

func TestDetachAndDevice(t *testing.T) {
	a, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	a.SetRequiresGrad(true)
	b, err := ScaleAutograd(a, 2)
	if err != nil {
		t.Fatalf("ScaleAutograd failed: %v", err)
	}

	d := b.Detach()
	if !d.IsLeaf() || d.RequiresGrad() {
		t.Error("detached tensor should be a leaf without gradient tracking")
	}

	moved, err := b.ToDevice(GPU)
	if err != nil {
		t.Fatalf("ToDevice failed: %v", err)
	}
	if moved.Device != GPU || b.Device != CPU {
		t.Errorf("ToDevice should copy: got %s and %s", moved.Device, b.Device)
	}
	same, _ := moved.ToDevice(GPU)
	if same != moved {
		t.Error("ToDevice to the current device should return the receiver")
	}
	if _, err := a.ToDevice(DeviceType(7)); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestScalar(t *testing.T) {
	s := FromScalar(1.5, Float32, CPU)
	v, err := s.Scalar()
	if err != nil {
		t.Fatalf("Scalar failed: %v", err)
	}
	if v != 1.5 {
		t.Errorf("Scalar = %v, expected 1.5", v)
	}

	m, _ := Zeros([]int{2}, Float32, CPU)
	if _, err := m.Scalar(); err == nil {
		t.Error("expected error for multi-element tensor")
	}
}
