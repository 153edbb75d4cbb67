package tensor

import (
	"fmt"
)

// BroadcastShapes computes the result shape of two broadcastable shapes using
// NumPy rules: trailing dimensions are aligned and a size of 1 stretches.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	n := len(shape1)
	if len(shape2) > n {
		n = len(shape2)
	}

	result := make([]int, n)
	for i := 0; i < n; i++ {
		d1, d2 := 1, 1
		if j := len(shape1) - n + i; j >= 0 {
			d1 = shape1[j]
		}
		if j := len(shape2) - n + i; j >= 0 {
			d2 = shape2[j]
		}

		switch {
		case d1 == d2:
			result[i] = d1
		case d1 == 1:
			result[i] = d2
		case d2 == 1:
			result[i] = d1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable at dimension %d", shape1, shape2, i)
		}
	}

	return result, nil
}

// AreBroadcastable checks if two shapes can be broadcast together
func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// broadcastIndex maps a flat index of targetShape back to the flat index of a
// source tensor with srcShape that was broadcast to it.
func broadcastIndex(dstIdx int, targetShape, srcShape []int) int {
	offset := len(targetShape) - len(srcShape)
	srcIdx := 0
	srcStride := 1
	remaining := dstIdx
	for i := len(targetShape) - 1; i >= 0; i-- {
		coord := remaining % targetShape[i]
		remaining /= targetShape[i]

		j := i - offset
		if j < 0 {
			continue
		}
		if srcShape[j] != 1 {
			srcIdx += coord * srcStride
		}
		srcStride *= srcShape[j]
	}
	return srcIdx
}

// BroadcastTensor expands a tensor to a target shape using broadcasting rules.
// The result owns fresh storage.
func BroadcastTensor(t *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(t.Shape, targetShape) {
		return t.Clone()
	}

	resultShape, err := BroadcastShapes(t.Shape, targetShape)
	if err != nil {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v: %v", t.Shape, targetShape, err)
	}
	if !shapesEqual(resultShape, targetShape) {
		return nil, fmt.Errorf("cannot broadcast tensor with shape %v to %v", t.Shape, targetShape)
	}

	result, err := Zeros(targetShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	switch t.DType {
	case Float32:
		src := t.Data.([]float32)
		dst := result.Data.([]float32)
		for i := range dst {
			dst[i] = src[broadcastIndex(i, targetShape, t.Shape)]
		}
	case Int32:
		src := t.Data.([]int32)
		dst := result.Data.([]int32)
		for i := range dst {
			dst[i] = src[broadcastIndex(i, targetShape, t.Shape)]
		}
	default:
		return nil, fmt.Errorf("unsupported data type for broadcasting: %v", t.DType)
	}

	return result, nil
}

// BroadcastTensorsForOperation broadcasts two tensors to a common shape
func BroadcastTensorsForOperation(a, b *Tensor) (*Tensor, *Tensor, error) {
	if shapesEqual(a.Shape, b.Shape) {
		return a, b, nil
	}

	shape, err := BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, nil, err
	}

	aB, bB := a, b
	if !shapesEqual(a.Shape, shape) {
		if aB, err = BroadcastTensor(a, shape); err != nil {
			return nil, nil, err
		}
	}
	if !shapesEqual(b.Shape, shape) {
		if bB, err = BroadcastTensor(b, shape); err != nil {
			return nil, nil, err
		}
	}
	return aB, bB, nil
}

// reduceGradientToShape sums a gradient over the dimensions that were
// broadcast during the forward pass so it matches targetShape again.
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}
	if len(targetShape) > len(grad.Shape) {
		return nil, fmt.Errorf("cannot reduce gradient of shape %v to larger shape %v", grad.Shape, targetShape)
	}

	result, err := Zeros(targetShape, grad.DType, grad.Device)
	if err != nil {
		return nil, err
	}

	switch grad.DType {
	case Float32:
		src := grad.Data.([]float32)
		dst := result.Data.([]float32)
		for i, v := range src {
			dst[broadcastIndex(i, grad.Shape, targetShape)] += v
		}
	default:
		return nil, fmt.Errorf("unsupported data type for gradient reduction: %v", grad.DType)
	}

	return result, nil
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}
