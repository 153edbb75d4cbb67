// Package gan drives adversarial training of a generator against a critic.
package gan

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
)

var (
	// Done is returned by a bounded Iterator once its passes are used up. It
	// marks the end of the sequence rather than a failure, like io.EOF, so it
	// carries no Err prefix and is returned unwrapped.
	Done = errors.New("no more batches")

	// ErrEmptySource is returned when a source yields nothing in a whole pass.
	ErrEmptySource = errors.New("data source yielded no batches in a full pass")

	// ErrNotImplemented is returned by scoring calls on a strategy that does not
	// provide them.
	ErrNotImplemented = errors.New("scoring strategy not implemented")

	// ErrRankMismatch is returned when labels cannot be joined to features of
	// the given rank.
	ErrRankMismatch = errors.New("unsupported feature rank for label conditioning")

	// ErrNoGradient marks a generator step whose loss does not depend on any
	// generator parameter.
	ErrNoGradient = errors.New("generator loss has no gradient path to the generator")
)

// Kind tells which variant a Batch holds.
type Kind int

const (
	// KindSingle is a data tensor without labels.
	KindSingle Kind = iota
	// KindPaired carries one label factor.
	KindPaired
	// KindTripled carries two label factors.
	KindTripled
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindPaired:
		return "paired"
	case KindTripled:
		return "tripled"
	default:
		return "unknown"
	}
}

// Batch is a data tensor with zero, one or two Int32 label factors.
type Batch struct {
	Kind   Kind
	Data   *tensor.Tensor
	Labels []*tensor.Tensor

	// Relabelled marks a real batch whose label was replaced by a wrong one.
	Relabelled bool
}

// Single returns an unlabelled batch.
func Single(data *tensor.Tensor) *Batch {
	return &Batch{Kind: KindSingle, Data: data}
}

// Paired returns a batch with one label factor.
func Paired(data, label *tensor.Tensor) *Batch {
	return &Batch{Kind: KindPaired, Data: data, Labels: []*tensor.Tensor{label}}
}

// Tripled returns a batch with two label factors.
func Tripled(data, factor1, factor2 *tensor.Tensor) *Batch {
	return &Batch{Kind: KindTripled, Data: data, Labels: []*tensor.Tensor{factor1, factor2}}
}

// Label returns the first label factor, or nil for a Single batch.
func (b *Batch) Label() *tensor.Tensor {
	if len(b.Labels) == 0 {
		return nil
	}
	return b.Labels[0]
}

// Size is the number of samples in the batch.
func (b *Batch) Size() int {
	if b.Data == nil || len(b.Data.Shape) == 0 {
		return 0
	}
	return b.Data.Shape[0]
}

// Tensors lists the data followed by the label factors, the argument order of
// a network call.
func (b *Batch) Tensors() []*tensor.Tensor {
	return append([]*tensor.Tensor{b.Data}, b.Labels...)
}

// Detached returns a batch sharing b's storage whose data carries no autograd
// history. Labels are kept as is.
func (b *Batch) Detached() *Batch {
	out := *b
	out.Data = b.Data.Detach()
	return &out
}

// WithData returns a copy of b holding data instead of b.Data.
func (b *Batch) WithData(data *tensor.Tensor) *Batch {
	out := *b
	out.Data = data
	return &out
}

func newBatch(data *tensor.Tensor, labels []*tensor.Tensor) (*Batch, error) {
	switch len(labels) {
	case 0:
		return Single(data), nil
	case 1:
		return Paired(data, labels[0]), nil
	case 2:
		return Tripled(data, labels[0], labels[1]), nil
	}
	return nil, errors.Errorf("batches carry at most two label factors, got %d", len(labels))
}
