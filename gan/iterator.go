package gan

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// Iterator yields batches one at a time.
type Iterator interface {
	Next() (*Batch, error)
}

// Source is a restartable finite batch source. Next returns a nil batch at the
// end of a pass; *training.DataLoader satisfies it.
type Source interface {
	Reset()
	Next() (*training.Batch, error)
}

// EpochOptions controls how an EpochIterator feeds batches.
type EpochOptions struct {
	Device tensor.DeviceType

	// NumPasses bounds the number of passes over the source; 0 is unbounded.
	NumPasses int

	// Conditional splits labels off each batch. With Pictures the source
	// supplies the label as a factor, otherwise the trailing NumClasses columns
	// of rank-2 data are a one-hot block that is converted by arg-max.
	Conditional bool
	Pictures    bool
	NumClasses  int
}

// EpochIterator restarts its source at the end of each pass and counts the
// passes it has completed.
type EpochIterator struct {
	src    Source
	opts   EpochOptions
	epoch  int
	inPass bool
	done   bool
}

// NewEpochIterator rewinds src and returns an iterator over it.
func NewEpochIterator(src Source, opts EpochOptions) (*EpochIterator, error) {
	if opts.NumPasses < 0 {
		return nil, errors.Errorf("number of passes must be >= 0, got %d", opts.NumPasses)
	}
	if opts.Conditional && !opts.Pictures && opts.NumClasses < 1 {
		return nil, errors.Errorf("one-hot conditional batches need a class count, got %d", opts.NumClasses)
	}
	src.Reset()
	return &EpochIterator{src: src, opts: opts}, nil
}

// Epoch is the number of completed passes.
func (it *EpochIterator) Epoch() int {
	return it.epoch
}

// Next returns the next batch, starting a new pass when the source runs dry.
// A bounded iterator returns Done once its passes are used up.
func (it *EpochIterator) Next() (*Batch, error) {
	for {
		if it.done {
			return nil, Done
		}

		raw, err := it.src.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "read batch in epoch %d", it.epoch)
		}
		if raw != nil {
			it.inPass = true
			return it.convert(raw)
		}

		if !it.inPass {
			return nil, ErrEmptySource
		}
		it.inPass = false
		it.epoch++
		if it.opts.NumPasses > 0 && it.epoch >= it.opts.NumPasses {
			it.done = true
			continue
		}
		it.src.Reset()
	}
}

func (it *EpochIterator) convert(raw *training.Batch) (*Batch, error) {
	data, err := raw.Data.ToDevice(it.opts.Device)
	if err != nil {
		return nil, errors.Wrap(err, "move batch to device")
	}
	if data, err = tensor.Cast(data, tensor.Float32); err != nil {
		return nil, errors.Wrap(err, "cast batch data")
	}

	labels := make([]*tensor.Tensor, len(raw.Labels))
	for i, l := range raw.Labels {
		if labels[i], err = l.ToDevice(it.opts.Device); err != nil {
			return nil, errors.Wrap(err, "move labels to device")
		}
	}

	switch {
	case !it.opts.Conditional:
		return newBatch(data, labels)
	case it.opts.Pictures:
		if len(labels) != 1 {
			return nil, errors.Errorf("conditional batches need exactly one label factor, got %d", len(labels))
		}
		return Paired(data, labels[0]), nil
	}

	if len(data.Shape) != 2 {
		return nil, errors.Errorf("one-hot conditional batches must be rank 2, got shape %v", data.Shape)
	}
	width := data.Shape[1] - it.opts.NumClasses
	if width < 1 {
		return nil, errors.Errorf("batch width %d leaves no features after %d one-hot columns", data.Shape[1], it.opts.NumClasses)
	}
	features, err := tensor.Narrow(data, 1, 0, width)
	if err != nil {
		return nil, err
	}
	onehot, err := tensor.Narrow(data, 1, width, it.opts.NumClasses)
	if err != nil {
		return nil, err
	}
	label, err := tensor.ArgMax(onehot)
	if err != nil {
		return nil, err
	}
	return Paired(features, label), nil
}
