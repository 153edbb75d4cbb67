package tensor

import (
	"fmt"
)

func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	tensor := &Tensor{
		Shape:    copyShape(shape),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		NumElems: calculateNumElements(shape),
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

// SetData overwrites the tensor's elements in place so every view sharing the
// buffer observes the update.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		src, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
		dst, ok := t.Data.([]float32)
		if !ok || len(dst) != len(src) {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(dst, src)
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
		dst, ok := t.Data.([]int32)
		if !ok || len(dst) != len(src) {
			return fmt.Errorf("data length %d does not match tensor size %d", len(src), t.NumElems)
		}
		copy(dst, src)
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	return Full(shape, 1.0, dtype, device)
}

// Full creates a tensor with every element set to value.
func Full(shape []int, value float64, dtype DType, device DeviceType) (*Tensor, error) {
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, device, float32(value))
	case Int32:
		return NewTensor(shape, dtype, device, int32(value))
	default:
		return nil, fmt.Errorf("unsupported dtype for Full: %s", dtype)
	}
}

// FromScalar creates a single-element tensor from a float64 value
func FromScalar(value float64, dtype DType, device DeviceType) *Tensor {
	switch dtype {
	case Int32:
		t, _ := NewTensor([]int{1}, Int32, device, []int32{int32(value)})
		return t
	default:
		t, _ := NewTensor([]int{1}, Float32, device, []float32{float32(value)})
		return t
	}
}

// FromLabels builds a rank-1 Int32 tensor from class indices.
func FromLabels(labels []int, device DeviceType) (*Tensor, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("cannot build a label tensor from an empty slice")
	}
	data := make([]int32, len(labels))
	for i, l := range labels {
		data[i] = int32(l)
	}
	return NewTensor([]int{len(labels)}, Int32, device, data)
}
