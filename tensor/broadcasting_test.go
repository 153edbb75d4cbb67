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
		{"Same shapes", []int{3, 4}, []int{3, 4}, []int{3, 4}, false},
		{"Scalar and tensor", []int{1}, []int{3, 4}, []int{3, 4}, false},
		{"Compatible broadcasting", []int{3, 1}, []int{1, 4}, []int{3, 4}, false},
		{"Different dimensions", []int{5}, []int{3, 5}, []int{3, 5}, false},
		{"Complex broadcasting", []int{2, 3, 1}, []int{1, 4}, []int{2, 3, 4}, false},
		{"Incompatible", []int{3, 4}, []int{2, 4}, nil, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := BroadcastShapes(test.shape1, test.shape2)
			if test.wantErr {
				if err == nil {
					t.Errorf("expected error for %v and %v", test.shape1, test.shape2)
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
				t.Error("AreBroadcastable disagreed with BroadcastShapes")
			}
		})
	}
}

func TestBroadcastTensor(t *testing.T) {
	col, _ := NewTensor([]int{2, 1}, Float32, CPU, []float32{1, 2})

	b, err := BroadcastTensor(col, []int{2, 3})
	if err != nil {
		t.Fatalf("BroadcastTensor failed: %v", err)
	}
	if !reflect.DeepEqual(b.Data.([]float32), []float32{1, 1, 1, 2, 2, 2}) {
		t.Errorf("BroadcastTensor = %v", b.Data)
	}

	if _, err := BroadcastTensor(col, []int{3}); err == nil {
		t.Error("expected error when the target shape drops dimensions")
	}
}

func TestReduceGradientToShape(t *testing.T) {
	grad, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})

	tests := []struct {
		target   []int
		expected []float32
	}{
		{[]int{3}, []float32{5, 7, 9}},
		{[]int{2, 1}, []float32{6, 15}},
		{[]int{1}, []float32{21}},
		{[]int{2, 3}, []float32{1, 2, 3, 4, 5, 6}},
	}

	for _, test := range tests {
		reduced, err := reduceGradientToShape(grad, test.target)
		if err != nil {
			t.Fatalf("reduceGradientToShape(%v) failed: %v", test.target, err)
		}
		if !reflect.DeepEqual(reduced.Shape, test.target) {
			t.Errorf("shape = %v, expected %v", reduced.Shape, test.target)
		}
		if !reflect.DeepEqual(reduced.Data.([]float32), test.expected) {
			t.Errorf("reduceGradientToShape(%v) = %v, expected %v", test.target, reduced.Data, test.expected)
		}
	}
}
