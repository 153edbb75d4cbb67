package gan

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
)

// Conditioner appends a one-hot label encoding to feature tensors.
type Conditioner struct {
	NumClasses int
}

// Join concatenates the one-hot encoding of y onto x along axis 1. Rank-2
// features gain NumClasses columns; rank-4 [b, c, h, w] features gain
// NumClasses constant channels. The result is differentiable with respect to x.
func (c *Conditioner) Join(x, y *tensor.Tensor) (*tensor.Tensor, error) {
	rank := len(x.Shape)
	if rank != 2 && rank != 4 {
		return nil, errors.Wrapf(ErrRankMismatch, "got rank %d, shape %v", rank, x.Shape)
	}
	if len(y.Shape) != 1 || y.Shape[0] != x.Shape[0] {
		return nil, errors.Errorf("labels of shape %v do not match a batch of %d", y.Shape, x.Shape[0])
	}

	onehot, err := tensor.OneHot(y, c.NumClasses)
	if err != nil {
		return nil, errors.Wrap(err, "encode labels")
	}
	if onehot, err = onehot.ToDevice(x.Device); err != nil {
		return nil, err
	}

	if rank == 4 {
		b, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
		if onehot, err = tensor.Reshape(onehot, []int{b, c.NumClasses, 1, 1}); err != nil {
			return nil, err
		}
		if onehot, err = tensor.BroadcastTensor(onehot, []int{b, c.NumClasses, h, w}); err != nil {
			return nil, errors.Wrap(err, "broadcast label planes")
		}
	}

	joined, err := tensor.ConcatAutograd(1, x, onehot)
	if err != nil {
		return nil, errors.Wrap(err, "join labels")
	}
	return joined, nil
}

// JoinBatch folds the label of a Paired batch into its data and returns a
// Single batch.
func (c *Conditioner) JoinBatch(b *Batch) (*Batch, error) {
	if b.Kind != KindPaired {
		return nil, errors.Errorf("label conditioning needs a paired batch, got %s", b.Kind)
	}
	joined, err := c.Join(b.Data, b.Label())
	if err != nil {
		return nil, err
	}
	out := Single(joined)
	out.Relabelled = b.Relabelled
	return out, nil
}
