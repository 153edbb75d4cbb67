package tensor

import (
	"fmt"
)

// splitAround returns the product of the dimensions before and after axis.
func splitAround(shape []int, axis int) (outer, inner int) {
	outer, inner = 1, 1
	for i, d := range shape {
		switch {
		case i < axis:
			outer *= d
		case i > axis:
			inner *= d
		}
	}
	return outer, inner
}

// Concat joins tensors along axis. All inputs must share rank, dtype, device
// and every dimension except axis.
func Concat(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("concat requires at least one tensor")
	}

	first := tensors[0]
	rank := len(first.Shape)
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concat axis %d out of range for rank %d", axis, rank)
	}

	outShape := copyShape(first.Shape)
	outShape[axis] = 0
	for i, t := range tensors {
		if err := checkCompatibility(first, t); err != nil {
			return nil, fmt.Errorf("concat input %d: %v", i, err)
		}
		if len(t.Shape) != rank {
			return nil, fmt.Errorf("concat input %d has rank %d, expected %d", i, len(t.Shape), rank)
		}
		for d := range t.Shape {
			if d != axis && t.Shape[d] != first.Shape[d] {
				return nil, fmt.Errorf("concat input %d has shape %v, incompatible with %v on axis %d", i, t.Shape, first.Shape, d)
			}
		}
		outShape[axis] += t.Shape[axis]
	}

	result, err := Zeros(outShape, first.DType, first.Device)
	if err != nil {
		return nil, err
	}

	outer, inner := splitAround(outShape, axis)
	offset := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			chunk := t.Shape[axis] * inner
			src := o * chunk
			switch first.DType {
			case Float32:
				copy(result.Data.([]float32)[offset:offset+chunk], t.Data.([]float32)[src:src+chunk])
			case Int32:
				copy(result.Data.([]int32)[offset:offset+chunk], t.Data.([]int32)[src:src+chunk])
			default:
				return nil, fmt.Errorf("unsupported dtype for Concat: %s", first.DType)
			}
			offset += chunk
		}
	}

	return result, nil
}

// Narrow returns a copy of length entries of t along axis starting at start.
func Narrow(t *Tensor, axis, start, length int) (*Tensor, error) {
	if axis < 0 || axis >= len(t.Shape) {
		return nil, fmt.Errorf("narrow axis %d out of range for rank %d", axis, len(t.Shape))
	}
	if start < 0 || length <= 0 || start+length > t.Shape[axis] {
		return nil, fmt.Errorf("narrow range [%d, %d) out of bounds for dimension of size %d", start, start+length, t.Shape[axis])
	}

	outShape := copyShape(t.Shape)
	outShape[axis] = length
	result, err := Zeros(outShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	outer, inner := splitAround(t.Shape, axis)
	srcChunk := t.Shape[axis] * inner
	dstChunk := length * inner
	for o := 0; o < outer; o++ {
		src := o*srcChunk + start*inner
		dst := o * dstChunk
		switch t.DType {
		case Float32:
			copy(result.Data.([]float32)[dst:dst+dstChunk], t.Data.([]float32)[src:src+dstChunk])
		case Int32:
			copy(result.Data.([]int32)[dst:dst+dstChunk], t.Data.([]int32)[src:src+dstChunk])
		default:
			return nil, fmt.Errorf("unsupported dtype for Narrow: %s", t.DType)
		}
	}

	return result, nil
}

// OneHot encodes a rank-1 Int32 label tensor as a [batch, numClasses] Float32
// indicator matrix.
func OneHot(labels *Tensor, numClasses int) (*Tensor, error) {
	if labels.DType != Int32 {
		return nil, fmt.Errorf("one-hot labels must be Int32, got %s", labels.DType)
	}
	if len(labels.Shape) != 1 {
		return nil, fmt.Errorf("one-hot labels must be rank 1, got shape %v", labels.Shape)
	}
	if numClasses <= 0 {
		return nil, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}

	batch := labels.Shape[0]
	result, err := Zeros([]int{batch, numClasses}, Float32, labels.Device)
	if err != nil {
		return nil, err
	}

	out := result.Data.([]float32)
	for i, l := range labels.Data.([]int32) {
		if l < 0 || int(l) >= numClasses {
			return nil, fmt.Errorf("label %d at index %d out of range [0, %d)", l, i, numClasses)
		}
		out[i*numClasses+int(l)] = 1
	}
	return result, nil
}

// ArgMax returns the index of the largest entry of every row of a rank-2
// Float32 tensor. Ties resolve to the first index.
func ArgMax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("argmax only supports Float32 dtype")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]int32, rows)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		best := 0
		for j := 1; j < cols; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		out[i] = int32(best)
	}
	return NewTensor([]int{rows}, Int32, t.Device, out)
}

// Cast converts t to dtype, copying the data. A tensor that already has the
// requested dtype is returned unchanged.
func Cast(t *Tensor, dtype DType) (*Tensor, error) {
	if t.DType == dtype {
		return t, nil
	}

	switch {
	case t.DType == Int32 && dtype == Float32:
		out := make([]float32, t.NumElems)
		for i, v := range t.Data.([]int32) {
			out[i] = float32(v)
		}
		return NewTensor(t.Shape, Float32, t.Device, out)
	case t.DType == Float32 && dtype == Int32:
		out := make([]int32, t.NumElems)
		for i, v := range t.Data.([]float32) {
			out[i] = int32(v)
		}
		return NewTensor(t.Shape, Int32, t.Device, out)
	}
	return nil, fmt.Errorf("unsupported cast from %s to %s", t.DType, dtype)
}
