package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-gan/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// paramData returns the Float32 buffers of a parameter and its gradient, or
// ok=false when the parameter is frozen or has not received a gradient.
func paramData(param *tensor.Tensor) (data, grad []float32, ok bool, err error) {
	if !param.RequiresGrad() || param.Grad() == nil {
		return nil, nil, false, nil
	}
	data, err = param.GetFloat32Data()
	if err != nil {
		return nil, nil, false, err
	}
	grad, err = param.Grad().GetFloat32Data()
	if err != nil {
		return nil, nil, false, err
	}
	if len(data) != len(grad) {
		return nil, nil, false, fmt.Errorf("gradient size %d does not match parameter size %d", len(grad), len(data))
	}
	return data, grad, true, nil
}

// SGD implements Stochastic Gradient Descent optimizer
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   map[*tensor.Tensor][]float32
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*tensor.Tensor, lr float64, momentum float64, weightDecay float64, dampening float64, nesterov bool) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		dampening:    dampening,
		nesterov:     nesterov,
		velocities:   make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step. Frozen parameters and parameters
// without a gradient are left untouched.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr := float32(sgd.learningRate)
	wd := float32(sgd.weightDecay)
	mom := float32(sgd.momentum)
	damp := float32(1.0 - sgd.dampening)

	for i, param := range sgd.parameters {
		data, grad, ok, err := paramData(param)
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		if !ok {
			continue
		}

		var velocity []float32
		if sgd.momentum > 0 {
			velocity = sgd.velocities[param]
			if velocity == nil {
				velocity = make([]float32, len(data))
				sgd.velocities[param] = velocity
			}
		}

		for j := range data {
			g := grad[j] + wd*data[j]
			if velocity != nil {
				// velocity = momentum * velocity + (1 - dampening) * grad
				velocity[j] = mom*velocity[j] + damp*g
				if sgd.nesterov {
					g += mom * velocity[j]
				} else {
					g = velocity[j]
				}
			}
			data[j] -= lr * g
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[*tensor.Tensor][]float32 // First moment estimates
	v           map[*tensor.Tensor][]float32 // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		data, grad, ok, err := paramData(param)
		if err != nil {
			return fmt.Errorf("parameter %d: %v", i, err)
		}
		if !ok {
			continue
		}

		m := adam.m[param]
		v := adam.v[param]
		if m == nil || v == nil {
			m = make([]float32, len(data))
			v = make([]float32, len(data))
			adam.m[param] = m
			adam.v[param] = v
		}

		for j := range data {
			g := float64(grad[j]) + adam.weightDecay*float64(data[j])

			// m = beta1 * m + (1 - beta1) * grad, v = beta2 * v + (1 - beta2) * grad^2
			mj := adam.beta1*float64(m[j]) + (1-adam.beta1)*g
			vj := adam.beta2*float64(v[j]) + (1-adam.beta2)*g*g
			m[j], v[j] = float32(mj), float32(vj)

			mHat := mj / bias1
			vHat := vj / bias2
			data[j] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// StepCount returns how many times Step has been applied
func (adam *Adam) StepCount() int64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}
