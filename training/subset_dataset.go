package training

import (
	"fmt"

	"github.com/tsawler/go-gan/tensor"
)

// SubsetDataset exposes only the first limit samples of an underlying dataset.
type SubsetDataset struct {
	originalDataset Dataset
	limit           int
}

// NewSubsetDataset wraps original, clamping limit to its length.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len()
	}
	return &SubsetDataset{
		originalDataset: original,
		limit:           limit,
	}, nil
}

func (sd *SubsetDataset) Len() int {
	return sd.limit
}

func (sd *SubsetDataset) Get(idx int) (*tensor.Tensor, []int, error) {
	if idx < 0 || idx >= sd.limit {
		return nil, nil, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, sd.limit)
	}
	return sd.originalDataset.Get(idx)
}
