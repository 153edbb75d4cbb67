package tensor

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNonFiniteGradient is reported when a gradient contains NaN or Inf.
var ErrNonFiniteGradient = errors.New("non-finite gradient")

// Reshape returns a new tensor with the same data but different shape
// The new shape must have the same total number of elements
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	newShape = copyShape(newShape)
	newNumElems := 1
	negOneIdx := -1

	for i, dim := range newShape {
		if dim < 0 {
			if dim != -1 {
				return nil, fmt.Errorf("negative dimension %d at index %d is not allowed (only -1 is allowed)", dim, i)
			}
			if negOneIdx >= 0 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			negOneIdx = i
		} else if dim == 0 {
			return nil, fmt.Errorf("dimension %d cannot be 0", i)
		} else {
			newNumElems *= dim
		}
	}

	if negOneIdx >= 0 {
		if t.NumElems%newNumElems != 0 {
			return nil, fmt.Errorf("cannot reshape tensor of size %d into shape with -1: size must be divisible by %d", t.NumElems, newNumElems)
		}
		inferredDim := t.NumElems / newNumElems
		newShape[negOneIdx] = inferredDim
		newNumElems *= inferredDim
	}

	if newNumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape tensor of size %d into shape %v (size %d)", t.NumElems, newShape, newNumElems)
	}

	return &Tensor{
		Shape:        newShape,
		Strides:      calculateStrides(newShape),
		DType:        t.DType,
		Device:       t.Device,
		Data:         t.Data, // Share the same underlying data
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        copyShape(t.Shape),
		Strides:      copyShape(t.Strides),
		DType:        t.DType,
		Device:       t.Device,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}

	switch t.DType {
	case Float32:
		data, ok := t.Data.([]float32)
		if !ok {
			return nil, fmt.Errorf("tensor has nil data")
		}
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		data, ok := t.Data.([]int32)
		if !ok {
			return nil, fmt.Errorf("tensor has nil data")
		}
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// Detach returns a tensor sharing t's storage with no autograd history, so
// nothing computed from it back-propagates into t's graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    copyShape(t.Shape),
		Strides:  copyShape(t.Strides),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

func (t *Tensor) Item() (interface{}, error) {
	if t.NumElems != 1 {
		return nil, fmt.Errorf("item() can only be called on tensors with exactly one element, got %d elements", t.NumElems)
	}

	switch t.DType {
	case Float32:
		return t.Data.([]float32)[0], nil
	case Int32:
		return t.Data.([]int32)[0], nil
	default:
		return nil, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// Scalar returns the single element of t as a float64.
func (t *Tensor) Scalar() (float64, error) {
	v, err := t.Item()
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case int32:
		return float64(x), nil
	}
	return 0, fmt.Errorf("unsupported item type %T", v)
}

func (t *Tensor) Size() []int {
	return copyShape(t.Shape)
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType || !shapesEqual(t.Shape, other.Shape) {
		return false, nil
	}

	switch t.DType {
	case Float32:
		a, b := t.Data.([]float32), other.Data.([]float32)
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				return false, nil
			}
		}
	case Int32:
		a, b := t.Data.([]int32), other.Data.([]int32)
		for i := range a {
			if a[i] != b[i] {
				return false, nil
			}
		}
	default:
		return false, fmt.Errorf("unsupported dtype for comparison: %s", t.DType)
	}
	return true, nil
}

// ToDevice returns a copy of t placed on device, or t itself when it already
// lives there. The copy keeps t's requiresGrad flag but not its history.
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	if device != CPU && device != GPU {
		return nil, fmt.Errorf("invalid device type: %v (valid types: CPU, GPU)", device)
	}

	if t.Device == device {
		return t, nil
	}

	result, err := t.Clone()
	if err != nil {
		return nil, err
	}
	result.Device = device
	return result, nil
}

// MoveTo changes the placement of t in place. It is meant for parameters,
// whose identity optimizers depend on.
func (t *Tensor) MoveTo(device DeviceType) error {
	if device != CPU && device != GPU {
		return fmt.Errorf("invalid device type: %v (valid types: CPU, GPU)", device)
	}
	t.Device = device
	if t.grad != nil {
		t.grad.Device = device
	}
	return nil
}

func (t *Tensor) PrintData(maxElements int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s)\n", t.Shape, t.DType, t.Device))

	if maxElements <= 0 {
		maxElements = 20
	}

	elementsToShow := t.NumElems
	if elementsToShow > maxElements {
		elementsToShow = maxElements
	}

	sb.WriteString("[")
	for i := 0; i < elementsToShow; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch t.DType {
		case Float32:
			sb.WriteString(fmt.Sprintf("%.4f", t.Data.([]float32)[i]))
		case Int32:
			sb.WriteString(fmt.Sprintf("%d", t.Data.([]int32)[i]))
		}
	}
	if t.NumElems > maxElements {
		sb.WriteString(fmt.Sprintf(", ... (%d more elements)", t.NumElems-maxElements))
	}
	sb.WriteString("]")

	return sb.String()
}

// ZeroGrad clears the accumulated gradient of every tensor.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.grad == nil {
			continue
		}
		if data, ok := t.grad.Data.([]float32); ok {
			for i := range data {
				data[i] = 0
			}
		}
	}
}

// CheckFiniteGrads returns ErrNonFiniteGradient if any accumulated gradient
// holds a NaN or an infinity.
func CheckFiniteGrads(tensors []*Tensor) error {
	for i, t := range tensors {
		if t.grad == nil {
			continue
		}
		data, ok := t.grad.Data.([]float32)
		if !ok {
			continue
		}
		for j, v := range data {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: parameter %d element %d is %v", ErrNonFiniteGradient, i, j, v)
			}
		}
	}
	return nil
}

func (t *Tensor) Cleanup() {
	t.Data = nil
	t.grad = nil
	t.creator = nil
}
