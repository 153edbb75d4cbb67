package tensor

import (
	"fmt"
	"math"
)

// record attaches op as the creator of result. Graph edges are always kept;
// whether a leaf receives a gradient is decided when Backward runs.
func record(op Operation, result *Tensor, inputs ...*Tensor) *Tensor {
	result.creator = op
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			result.requiresGrad = true
			break
		}
	}
	return result
}

func expectInputs(name string, inputs []*Tensor, n int) error {
	if len(inputs) != n {
		return fmt.Errorf("%s requires exactly %d inputs, got %d", name, n, len(inputs))
	}
	return nil
}

// AddOp implements the Operation interface for tensor addition
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("AddOp", inputs, 2); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Add(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// Gradient flows unchanged to both inputs, summed over broadcast dimensions.
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}
	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubOp implements the Operation interface for tensor subtraction
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("SubOp", inputs, 2); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Sub(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}

	neg, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceGradientToShape(neg, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulOp implements the Operation interface for element-wise multiplication
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("MulOp", inputs, 2); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Mul(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(a*b)/da = b, d(a*b)/db = a
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradA: %v", err)
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input A: %v", err)
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradB: %v", err)
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce gradient for input B: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulOp implements the Operation interface for matrix multiplication
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("MatMulOp", inputs, 2); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := MatMul(inputs[0], inputs[1])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// dA = gradOut @ B^T, dB = A^T @ gradOut
	bT, err := Transpose(b, 0, 1)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradA: %v", err)
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, fmt.Errorf("backward pass failed for gradB: %v", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// ScaleOp multiplies its input by a constant factor
type ScaleOp struct {
	inputs []*Tensor
	factor float32
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("ScaleOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Scale(inputs[0], op.factor)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ReLUOp implements the Operation interface for ReLU activation. A non-zero
// slope turns it into a leaky ReLU.
type ReLUOp struct {
	inputs []*Tensor
	slope  float32
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("ReLUOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := LeakyReLU(inputs[0], op.slope)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0].Data.([]float32)
	g := gradOut.Data.([]float32)

	grad, err := Zeros(gradOut.Shape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}
	out := grad.Data.([]float32)
	for i, x := range in {
		if x > 0 {
			out[i] = g[i]
		} else {
			out[i] = g[i] * op.slope
		}
	}
	return []*Tensor{grad}, nil
}

// SigmoidOp implements the Operation interface for Sigmoid activation
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("SigmoidOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Sigmoid(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	op.output = result
	return record(op, result, inputs...), nil
}

func (op *SigmoidOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// ds/dx = s * (1 - s)
	s := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)

	grad, err := Zeros(gradOut.Shape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}
	out := grad.Data.([]float32)
	for i := range out {
		out[i] = g[i] * s[i] * (1 - s[i])
	}
	return []*Tensor{grad}, nil
}

// TanhOp implements the Operation interface for Tanh activation
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("TanhOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := Tanh(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	op.output = result
	return record(op, result, inputs...), nil
}

func (op *TanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	y := op.output.Data.([]float32)
	g := gradOut.Data.([]float32)

	grad, err := Zeros(gradOut.Shape, Float32, gradOut.Device)
	if err != nil {
		return nil, err
	}
	out := grad.Data.([]float32)
	for i := range out {
		out[i] = g[i] * (1 - y[i]*y[i])
	}
	return []*Tensor{grad}, nil
}

// MeanOp reduces its input to a single element. With average unset it sums
// instead.
type MeanOp struct {
	inputs  []*Tensor
	average bool
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("MeanOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	var result *Tensor
	var err error
	if op.average {
		result, err = Mean(inputs[0])
	} else {
		result, err = SumAll(inputs[0])
	}
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %v", err)
	}
	return record(op, result, inputs...), nil
}

func (op *MeanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	in := op.inputs[0]
	g := gradOut.Data.([]float32)[0]
	if op.average {
		g /= float32(in.NumElems)
	}
	grad, err := Full(in.Shape, float64(g), Float32, in.Device)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ReshapeOp changes the shape of its input without touching the data
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("ReshapeOp", inputs, 1); err != nil {
		return nil, err
	}
	op.inputs = inputs

	result, err := inputs[0].Reshape(op.shape)
	if err != nil {
		return nil, err
	}
	result.requiresGrad = false
	return record(op, result, inputs...), nil
}

func (op *ReshapeOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := gradOut.Reshape(op.inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ConcatOp joins its inputs along an axis
type ConcatOp struct {
	inputs []*Tensor
	axis   int
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	op.inputs = inputs

	result, err := Concat(op.axis, inputs...)
	if err != nil {
		return nil, err
	}
	return record(op, result, inputs...), nil
}

func (op *ConcatOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grads := make([]*Tensor, len(op.inputs))
	start := 0
	for i, in := range op.inputs {
		if in.DType != Float32 {
			start += in.Shape[op.axis]
			continue
		}
		g, err := Narrow(gradOut, op.axis, start, in.Shape[op.axis])
		if err != nil {
			return nil, err
		}
		grads[i] = g
		start += in.Shape[op.axis]
	}
	return grads, nil
}

// BCEWithLogitsOp computes the mean binary cross-entropy between sigmoid(logits)
// and targets in a numerically stable form. Targets receive no gradient.
type BCEWithLogitsOp struct {
	inputs []*Tensor
}

func (op *BCEWithLogitsOp) Inputs() []*Tensor { return op.inputs }

func (op *BCEWithLogitsOp) Forward(inputs ...*Tensor) (*Tensor, error) {
	if err := expectInputs("BCEWithLogitsOp", inputs, 2); err != nil {
		return nil, err
	}
	logits, targets := inputs[0], inputs[1]
	if logits.DType != Float32 || targets.DType != Float32 {
		return nil, fmt.Errorf("BCEWithLogits requires Float32 tensors")
	}
	if logits.NumElems != targets.NumElems {
		return nil, fmt.Errorf("logits shape %v does not match targets shape %v", logits.Shape, targets.Shape)
	}
	op.inputs = inputs

	x := logits.Data.([]float32)
	y := targets.Data.([]float32)
	var sum float64
	for i := range x {
		xi, yi := float64(x[i]), float64(y[i])
		sum += math.Max(xi, 0) - xi*yi + math.Log1p(math.Exp(-math.Abs(xi)))
	}

	result, err := NewTensor([]int{1}, Float32, logits.Device, []float32{float32(sum / float64(len(x)))})
	if err != nil {
		return nil, err
	}
	return record(op, result, inputs...), nil
}

func (op *BCEWithLogitsOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	logits, targets := op.inputs[0], op.inputs[1]
	x := logits.Data.([]float32)
	y := targets.Data.([]float32)
	scale := gradOut.Data.([]float32)[0] / float32(len(x))

	grad, err := Zeros(logits.Shape, Float32, logits.Device)
	if err != nil {
		return nil, err
	}
	out := grad.Data.([]float32)
	for i := range out {
		out[i] = (sigmoid32(x[i]) - y[i]) * scale
	}
	return []*Tensor{grad, nil}, nil
}

// High-level autograd functions that create and execute operations

func AddAutograd(a, b *Tensor) (*Tensor, error) {
	return (&AddOp{}).Forward(a, b)
}

func SubAutograd(a, b *Tensor) (*Tensor, error) {
	return (&SubOp{}).Forward(a, b)
}

func MulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MulOp{}).Forward(a, b)
}

func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	return (&MatMulOp{}).Forward(a, b)
}

func ScaleAutograd(a *Tensor, factor float32) (*Tensor, error) {
	return (&ScaleOp{factor: factor}).Forward(a)
}

func ReLUAutograd(a *Tensor) (*Tensor, error) {
	return (&ReLUOp{}).Forward(a)
}

func LeakyReLUAutograd(a *Tensor, slope float32) (*Tensor, error) {
	return (&ReLUOp{slope: slope}).Forward(a)
}

func SigmoidAutograd(a *Tensor) (*Tensor, error) {
	return (&SigmoidOp{}).Forward(a)
}

func TanhAutograd(a *Tensor) (*Tensor, error) {
	return (&TanhOp{}).Forward(a)
}

func SumAutograd(a *Tensor) (*Tensor, error) {
	return (&MeanOp{}).Forward(a)
}

func MeanAutograd(a *Tensor) (*Tensor, error) {
	return (&MeanOp{average: true}).Forward(a)
}

func ReshapeAutograd(a *Tensor, shape []int) (*Tensor, error) {
	return (&ReshapeOp{shape: copyShape(shape)}).Forward(a)
}

// ConcatAutograd concatenates tensors along axis. Non-Float32 inputs are
// accepted only when every input shares the dtype, and receive no gradient.
func ConcatAutograd(axis int, tensors ...*Tensor) (*Tensor, error) {
	return (&ConcatOp{axis: axis}).Forward(tensors...)
}

func BCEWithLogitsAutograd(logits, targets *Tensor) (*Tensor, error) {
	return (&BCEWithLogitsOp{}).Forward(logits, targets)
}
