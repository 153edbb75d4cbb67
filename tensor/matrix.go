package tensor

import (
	"fmt"
)

// MatMul multiplies two rank-2 tensors.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}

	rows1, cols1 := t1.Shape[0], t1.Shape[1]
	rows2, cols2 := t2.Shape[0], t2.Shape[1]

	if cols1 != rows2 {
		return nil, fmt.Errorf("incompatible dimensions for matmul: (%d, %d) x (%d, %d)", rows1, cols1, rows2, cols2)
	}

	result, err := Zeros([]int{rows1, cols2}, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < rows1; i++ {
			for k := 0; k < cols1; k++ {
				a := data1[i*cols1+k]
				if a == 0 {
					continue
				}
				row := data2[k*cols2 : (k+1)*cols2]
				out := resultData[i*cols2 : (i+1)*cols2]
				for j, b := range row {
					out[j] += a * b
				}
			}
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < rows1; i++ {
			for j := 0; j < cols2; j++ {
				var sum int32
				for k := 0; k < cols1; k++ {
					sum += data1[i*cols1+k] * data2[k*cols2+j]
				}
				resultData[i*cols2+j] = sum
			}
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for MatMul: %s", t1.DType)
	}

	return result, nil
}

// Transpose swaps two dimensions, copying the data into contiguous order.
func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if dim0 < 0 || dim0 >= len(t.Shape) {
		return nil, fmt.Errorf("dim0 %d out of range for tensor with %d dimensions", dim0, len(t.Shape))
	}
	if dim1 < 0 || dim1 >= len(t.Shape) {
		return nil, fmt.Errorf("dim1 %d out of range for tensor with %d dimensions", dim1, len(t.Shape))
	}

	newShape := copyShape(t.Shape)
	newShape[dim0], newShape[dim1] = newShape[dim1], newShape[dim0]

	result, err := Zeros(newShape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	srcStrides := calculateStrides(t.Shape)
	coords := make([]int, len(newShape))
	for dst := 0; dst < result.NumElems; dst++ {
		remaining := dst
		for i := len(newShape) - 1; i >= 0; i-- {
			coords[i] = remaining % newShape[i]
			remaining /= newShape[i]
		}
		coords[dim0], coords[dim1] = coords[dim1], coords[dim0]
		src := 0
		for i, c := range coords {
			src += c * srcStrides[i]
		}

		switch t.DType {
		case Float32:
			result.Data.([]float32)[dst] = t.Data.([]float32)[src]
		case Int32:
			result.Data.([]int32)[dst] = t.Data.([]int32)[src]
		default:
			return nil, fmt.Errorf("unsupported dtype for Transpose: %s", t.DType)
		}
	}

	return result, nil
}

func Reshape(t *Tensor, newShape []int) (*Tensor, error) {
	return t.Reshape(newShape)
}

func Flatten(t *Tensor) (*Tensor, error) {
	return t.Reshape([]int{t.NumElems})
}
