package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

// elementwise applies a binary function after broadcasting both operands.
func elementwise(name string, t1, t2 *Tensor, f32 func(a, b float32) float32, i32 func(a, b int32) int32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	a, b, err := BroadcastTensorsForOperation(t1, t2)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}

	result, err := Zeros(a.Shape, a.DType, a.Device)
	if err != nil {
		return nil, err
	}

	switch a.DType {
	case Float32:
		da, db := a.Data.([]float32), b.Data.([]float32)
		out := result.Data.([]float32)
		for i := range out {
			out[i] = f32(da[i], db[i])
		}
	case Int32:
		if i32 == nil {
			return nil, fmt.Errorf("unsupported dtype for %s: %s", name, a.DType)
		}
		da, db := a.Data.([]int32), b.Data.([]int32)
		out := result.Data.([]int32)
		for i := range out {
			out[i] = i32(da[i], db[i])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for %s: %s", name, a.DType)
	}

	return result, nil
}

// unary applies f to every element of a Float32 tensor.
func unary(name string, t *Tensor, f func(x float32) float32) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 dtype", name)
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)
	for i, v := range data {
		out[i] = f(v)
	}
	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Add", t1, t2,
		func(a, b float32) float32 { return a + b },
		func(a, b int32) int32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Sub", t1, t2,
		func(a, b float32) float32 { return a - b },
		func(a, b int32) int32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise("Mul", t1, t2,
		func(a, b float32) float32 { return a * b },
		func(a, b int32) int32 { return a * b })
}

// Div divides element-wise. Integer division by zero is an error; float
// division follows IEEE semantics.
func Div(t1, t2 *Tensor) (*Tensor, error) {
	if t2.DType == Int32 {
		for i, v := range t2.Data.([]int32) {
			if v == 0 {
				return nil, fmt.Errorf("integer division by zero at index %d", i)
			}
		}
	}
	return elementwise("Div", t1, t2,
		func(a, b float32) float32 { return a / b },
		func(a, b int32) int32 { return a / b })
}

// Scale multiplies every element by s.
func Scale(t *Tensor, s float32) (*Tensor, error) {
	return unary("Scale", t, func(x float32) float32 { return x * s })
}

func ReLU(t *Tensor) (*Tensor, error) {
	return unary("ReLU", t, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	})
}

// LeakyReLU keeps positive values and scales negative values by slope
func LeakyReLU(t *Tensor, slope float32) (*Tensor, error) {
	return unary("LeakyReLU", t, func(x float32) float32 {
		if x > 0 {
			return x
		}
		return x * slope
	})
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return unary("Sigmoid", t, sigmoid32)
}

func Tanh(t *Tensor) (*Tensor, error) {
	return unary("Tanh", t, func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	})
}

func Exp(t *Tensor) (*Tensor, error) {
	return unary("Exp", t, func(x float32) float32 {
		return float32(math.Exp(float64(x)))
	})
}

func Log(t *Tensor) (*Tensor, error) {
	if t.DType == Float32 {
		for i, v := range t.Data.([]float32) {
			if v <= 0 {
				return nil, fmt.Errorf("log of non-positive value at index %d: %f", i, v)
			}
		}
	}
	return unary("Log", t, func(x float32) float32 {
		return float32(math.Log(float64(x)))
	})
}

// Sqrt computes the square root of a tensor element-wise; negative inputs
// produce NaN.
func Sqrt(t *Tensor) (*Tensor, error) {
	return unary("Sqrt", t, func(x float32) float32 {
		if x < 0 {
			return float32(math.NaN())
		}
		return float32(math.Sqrt(float64(x)))
	})
}

// SumAll reduces every element to a single-element tensor.
func SumAll(t *Tensor) (*Tensor, error) {
	switch t.DType {
	case Float32:
		var sum float64
		for _, v := range t.Data.([]float32) {
			sum += float64(v)
		}
		return NewTensor([]int{1}, Float32, t.Device, []float32{float32(sum)})
	case Int32:
		var sum int32
		for _, v := range t.Data.([]int32) {
			sum += v
		}
		return NewTensor([]int{1}, Int32, t.Device, []int32{sum})
	default:
		return nil, fmt.Errorf("unsupported data type for sum: %v", t.DType)
	}
}

// Mean averages every element of a Float32 tensor.
func Mean(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Mean only supports Float32 dtype")
	}
	sum, err := SumAll(t)
	if err != nil {
		return nil, err
	}
	sum.Data.([]float32)[0] /= float32(t.NumElems)
	return sum, nil
}

func sigmoid32(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}
