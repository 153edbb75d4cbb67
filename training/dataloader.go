package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-gan/tensor"
)

// Dataset interface defines methods that all datasets must implement. Each
// sample carries zero or more integer label factors.
type Dataset interface {
	Len() int                                                   // Total number of samples
	Get(idx int) (data *tensor.Tensor, labels []int, err error) // Returns a single sample
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	device    tensor.DeviceType
	indices   []int
	position  int
	rng       *rand.Rand
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. Shuffling draws from the package
// seed set with SetRandomSeed.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, device tensor.DeviceType) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		device:    device,
		indices:   indices,
		rng:       rand.New(rand.NewSource(globalRng.Int63())),
	}
	dl.Reset()
	return dl, nil
}

// Batch represents a batch of data and its label factors, one rank-1 Int32
// tensor per factor.
type Batch struct {
	Data   *tensor.Tensor
	Labels []*tensor.Tensor
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the data loader for a new epoch, reshuffling if enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %v", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch stacks the samples at indices into batched tensors
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	firstData, firstLabels, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	dataShape := append([]int{len(indices)}, firstData.Shape...)
	batchData, err := tensor.Zeros(dataShape, firstData.DType, dl.device)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %v", err)
	}

	labels := make([][]int32, len(firstLabels))
	for f := range labels {
		labels[f] = make([]int32, len(indices))
	}

	for i, idx := range indices {
		data, sampleLabels, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if len(sampleLabels) != len(labels) {
			return nil, fmt.Errorf("sample %d has %d label factors, expected %d", idx, len(sampleLabels), len(labels))
		}

		if err := copyInto(batchData, data, i); err != nil {
			return nil, fmt.Errorf("failed to copy data for sample %d: %v", idx, err)
		}
		for f, l := range sampleLabels {
			labels[f][i] = int32(l)
		}
	}

	batch := &Batch{Data: batchData}
	for _, factor := range labels {
		t, err := tensor.NewTensor([]int{len(indices)}, tensor.Int32, dl.device, factor)
		if err != nil {
			return nil, fmt.Errorf("failed to create batch labels tensor: %v", err)
		}
		batch.Labels = append(batch.Labels, t)
	}

	return batch, nil
}

// copyInto copies a sample tensor into a specific position in the batch tensor
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}

	sampleSize := sampleTensor.NumElems
	offset := batchIndex * sampleSize
	if offset+sampleSize > batchTensor.NumElems {
		return fmt.Errorf("sample of %d elements does not fit batch slot %d", sampleSize, batchIndex)
	}

	switch batchTensor.DType {
	case tensor.Float32:
		copy(batchTensor.Data.([]float32)[offset:offset+sampleSize], sampleTensor.Data.([]float32))
	case tensor.Int32:
		copy(batchTensor.Data.([]int32)[offset:offset+sampleSize], sampleTensor.Data.([]int32))
	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}

	return nil
}

// SimpleDataset provides a basic implementation of Dataset for testing and simple use cases
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels [][]int
}

// NewSimpleDataset creates a new SimpleDataset. labels may be nil for an
// unlabelled dataset.
func NewSimpleDataset(data []*tensor.Tensor, labels [][]int) (*SimpleDataset, error) {
	if labels != nil && len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", len(data), len(labels))
	}

	return &SimpleDataset{
		data:   data,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns a sample at the given index
func (ds *SimpleDataset) Get(idx int) (*tensor.Tensor, []int, error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}
	if ds.labels == nil {
		return ds.data[idx], nil, nil
	}
	return ds.data[idx], ds.labels[idx], nil
}
