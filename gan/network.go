package gan

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// Network is a generator or critic as the trainer sees it. Forward receives a
// batch's tensors in order (data, then label factors) and returns one output,
// or one per head for a multi-head critic.
type Network interface {
	Forward(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	SetTrainable(trainable bool)
}

// ModeSetter is implemented by networks with a train/eval mode switch.
type ModeSetter interface {
	Train()
	Eval()
}

// DeviceMover is implemented by networks that can move their parameters.
type DeviceMover interface {
	MoveTo(device tensor.DeviceType) error
}

// SetTrainable marks every tensor in params trainable or frozen.
func SetTrainable(params []*tensor.Tensor, trainable bool) {
	for _, p := range params {
		p.SetRequiresGrad(trainable)
	}
}

// ModuleNetwork adapts single-input training modules to Network. Heads, when
// present, all read the trunk output and produce one score each.
type ModuleNetwork struct {
	trunk      training.Module
	heads      []training.Module
	joiners    []*Conditioner
	parameters []*tensor.Tensor
}

// Wrap adapts m. The resulting network accepts exactly one input.
func Wrap(m training.Module) *ModuleNetwork {
	return newModuleNetwork(m, nil, nil)
}

// WrapConditional adapts m to accept one label factor per class count after
// the data. Each factor is one-hot encoded and joined to the data before m
// runs.
func WrapConditional(m training.Module, classCounts ...int) *ModuleNetwork {
	joiners := make([]*Conditioner, len(classCounts))
	for i, n := range classCounts {
		joiners[i] = &Conditioner{NumClasses: n}
	}
	return newModuleNetwork(m, nil, joiners)
}

// WrapHeads builds a multi-head network: trunk followed by every head.
func WrapHeads(trunk training.Module, heads ...training.Module) *ModuleNetwork {
	return newModuleNetwork(trunk, heads, nil)
}

func newModuleNetwork(trunk training.Module, heads []training.Module, joiners []*Conditioner) *ModuleNetwork {
	n := &ModuleNetwork{trunk: trunk, heads: heads, joiners: joiners}
	n.parameters = append(n.parameters, trunk.Parameters()...)
	for _, h := range heads {
		n.parameters = append(n.parameters, h.Parameters()...)
	}
	return n
}

func (n *ModuleNetwork) Forward(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1+len(n.joiners) {
		return nil, errors.Errorf("network expects %d inputs, got %d", 1+len(n.joiners), len(inputs))
	}

	x := inputs[0]
	for i, j := range n.joiners {
		var err error
		if x, err = j.Join(x, inputs[1+i]); err != nil {
			return nil, errors.Wrapf(err, "join label factor %d", i)
		}
	}

	out, err := n.trunk.Forward(x)
	if err != nil {
		return nil, err
	}
	if len(n.heads) == 0 {
		return []*tensor.Tensor{out}, nil
	}

	scores := make([]*tensor.Tensor, len(n.heads))
	for i, h := range n.heads {
		if scores[i], err = h.Forward(out); err != nil {
			return nil, errors.Wrapf(err, "head %d", i)
		}
	}
	return scores, nil
}

func (n *ModuleNetwork) Parameters() []*tensor.Tensor {
	return n.parameters
}

func (n *ModuleNetwork) SetTrainable(trainable bool) {
	SetTrainable(n.parameters, trainable)
}

func (n *ModuleNetwork) Train() {
	n.trunk.Train()
	for _, h := range n.heads {
		h.Train()
	}
}

func (n *ModuleNetwork) Eval() {
	n.trunk.Eval()
	for _, h := range n.heads {
		h.Eval()
	}
}

func (n *ModuleNetwork) MoveTo(device tensor.DeviceType) error {
	for i, p := range n.parameters {
		if err := p.MoveTo(device); err != nil {
			return errors.Wrapf(err, "move parameter %d", i)
		}
	}
	return nil
}
