package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-gan/tensor"
)

// Global random source for deterministic initialization
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Module interface defines methods that all neural network layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode
	IsTraining() bool             // Returns true if in training mode
}

// MoveParameters places every parameter of m on device in place, keeping the
// tensor identities optimizers hold on to.
func MoveParameters(m Module, device tensor.DeviceType) error {
	for i, p := range m.Parameters() {
		if err := p.MoveTo(device); err != nil {
			return fmt.Errorf("failed to move parameter %d: %v", i, err)
		}
	}
	return nil
}

// CountParameters returns the number of scalar parameters of m.
func CountParameters(m Module) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.NumElems
	}
	return n
}

// Linear implements a fully connected (dense) layer: y = xW + b
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a new Linear layer
func NewLinear(inputSize, outputSize int, bias bool, device tensor.DeviceType) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %d -> %d", inputSize, outputSize)
	}

	// Xavier/Glorot uniform: W ~ U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
	bound := math.Sqrt(6.0 / float64(inputSize+outputSize))

	weightData := make([]float32, inputSize*outputSize)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}

	// Weight shape is [inputSize, outputSize] so the forward pass is a plain MatMul
	weight, err := tensor.NewTensor([]int{inputSize, outputSize}, tensor.Float32, device, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %v", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Zeros([]int{outputSize}, tensor.Float32, device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %v", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward performs the forward pass: y = xW + b
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 2 {
		return nil, fmt.Errorf("Linear layer expects 2D input [batch_size, input_size], got shape %v", input.Shape)
	}

	if input.Shape[1] != l.weight.Shape[0] {
		return nil, fmt.Errorf("input size mismatch: expected %d, got %d", l.weight.Shape[0], input.Shape[1])
	}

	output, err := tensor.MatMulAutograd(input, l.weight)
	if err != nil {
		return nil, fmt.Errorf("weight multiplication failed: %v", err)
	}

	if l.bias != nil {
		// AddAutograd broadcasts [outputSize] across the batch
		output, err = tensor.AddAutograd(output, l.bias)
		if err != nil {
			return nil, fmt.Errorf("bias addition failed: %v", err)
		}
	}

	return output, nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) Train() {
	l.training = true
}

func (l *Linear) Eval() {
	l.training = false
}

func (l *Linear) IsTraining() bool {
	return l.training
}

// activation is the shared base of parameterless element-wise modules
type activation struct {
	training bool
	fn       func(*tensor.Tensor) (*tensor.Tensor, error)
}

func (a *activation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return a.fn(input)
}

func (a *activation) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (a *activation) Train() {
	a.training = true
}

func (a *activation) Eval() {
	a.training = false
}

func (a *activation) IsTraining() bool {
	return a.training
}

// ReLU implements ReLU activation function module
type ReLU struct {
	activation
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{activation{training: true, fn: tensor.ReLUAutograd}}
}

// LeakyReLU keeps a small slope for negative inputs
type LeakyReLU struct {
	activation
	Slope float32
}

func NewLeakyReLU(slope float32) *LeakyReLU {
	return &LeakyReLU{
		activation: activation{training: true, fn: func(x *tensor.Tensor) (*tensor.Tensor, error) {
			return tensor.LeakyReLUAutograd(x, slope)
		}},
		Slope: slope,
	}
}

type Tanh struct {
	activation
}

func NewTanh() *Tanh {
	return &Tanh{activation{training: true, fn: tensor.TanhAutograd}}
}

type Sigmoid struct {
	activation
}

func NewSigmoid() *Sigmoid {
	return &Sigmoid{activation{training: true, fn: tensor.SigmoidAutograd}}
}

// Sequential runs its modules in order
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward performs forward pass through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("error in module %d: %v", i, err)
		}
	}

	return output, nil
}

// Parameters returns all parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

func (s *Sequential) IsTraining() bool {
	return s.training
}

// Add appends a module to the sequential container
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// NewMLP builds Linear layers of the given widths with act between them. The
// last layer has no activation.
func NewMLP(widths []int, act func() Module, device tensor.DeviceType) (*Sequential, error) {
	if len(widths) < 2 {
		return nil, fmt.Errorf("an MLP needs at least an input and an output width, got %v", widths)
	}

	seq := NewSequential()
	for i := 0; i < len(widths)-1; i++ {
		layer, err := NewLinear(widths[i], widths[i+1], true, device)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %v", i, err)
		}
		seq.Add(layer)
		if i < len(widths)-2 && act != nil {
			seq.Add(act())
		}
	}
	return seq, nil
}
