package training

import (
	"fmt"

	"github.com/tsawler/go-gan/tensor"
)

// Loss interface defines methods that all loss functions must implement. The
// returned tensor is a differentiable single-element result.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

func checkLossShapes(predicted, target *tensor.Tensor) error {
	if predicted.DType != target.DType {
		return fmt.Errorf("predicted and target tensors must have the same dtype")
	}
	if len(predicted.Shape) != len(target.Shape) {
		return fmt.Errorf("predicted and target tensors must have the same shape")
	}
	for i, dim := range predicted.Shape {
		if dim != target.Shape[i] {
			return fmt.Errorf("predicted and target tensors must have the same shape")
		}
	}
	return nil
}

// MSELoss implements Mean Squared Error loss function
type MSELoss struct {
	reduction string // "mean" or "sum"
}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss(reduction string) *MSELoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &MSELoss{reduction: reduction}
}

// Forward computes the MSE loss: L = (1/N) * sum((y_pred - y_true)^2)
func (mse *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkLossShapes(predicted, target); err != nil {
		return nil, err
	}

	diff, err := tensor.SubAutograd(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("subtraction failed: %v", err)
	}

	squared, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("multiplication failed: %v", err)
	}

	if mse.reduction == "sum" {
		return tensor.SumAutograd(squared)
	}
	return tensor.MeanAutograd(squared)
}

// BCEWithLogitsLoss is the binary cross-entropy of sigmoid(predicted) against
// targets in [0, 1], averaged over every element.
type BCEWithLogitsLoss struct{}

func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

func (bce *BCEWithLogitsLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkLossShapes(predicted, target); err != nil {
		return nil, err
	}
	return tensor.BCEWithLogitsAutograd(predicted, target)
}

// Targets returns a tensor shaped like predicted with every entry set to value.
func Targets(predicted *tensor.Tensor, value float64) (*tensor.Tensor, error) {
	return tensor.Full(predicted.Shape, value, tensor.Float32, predicted.Device)
}
