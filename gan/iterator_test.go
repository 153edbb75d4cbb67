package gan

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// emptySource never yields a batch.
type emptySource struct{ resets int }

func (s *emptySource) Reset() { s.resets++ }

func (s *emptySource) Next() (*training.Batch, error) { return nil, nil }

func TestEpochIteratorBounded(t *testing.T) {
	// 24 samples in batches of 8: three batches per pass.
	it, err := NewEpochIterator(pointSource(t, 24, 8, 0), EpochOptions{NumPasses: 2})
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for {
		b, err := it.Next()
		if errors.Is(err, Done) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if b.Kind != KindSingle || b.Size() != 8 {
			t.Fatalf("expected single batches of 8, got %s of %d", b.Kind, b.Size())
		}
		count++
	}
	if count != 6 {
		t.Errorf("expected 6 batches over 2 passes, got %d", count)
	}
	if it.Epoch() != 2 {
		t.Errorf("expected 2 completed passes, got %d", it.Epoch())
	}
	if _, err := it.Next(); !errors.Is(err, Done) {
		t.Errorf("expected Done to persist, got %v", err)
	}
}

func TestEpochIteratorUnbounded(t *testing.T) {
	it, err := NewEpochIterator(pointSource(t, 20, 8, 0), EpochOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Three batches per pass, the last one partial.
	sizes := []int{8, 8, 4, 8, 8, 4, 8}
	epochs := []int{0, 0, 0, 1, 1, 1, 2}
	for i, want := range sizes {
		b, err := it.Next()
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if b.Size() != want {
			t.Errorf("batch %d: expected %d samples, got %d", i, want, b.Size())
		}
		if it.Epoch() != epochs[i] {
			t.Errorf("batch %d: expected epoch %d, got %d", i, epochs[i], it.Epoch())
		}
	}
}

func TestEpochIteratorEmptySource(t *testing.T) {
	src := &emptySource{}
	it, err := NewEpochIterator(src, EpochOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Next(); !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
	if src.resets != 1 {
		t.Errorf("expected the source to be rewound once, got %d", src.resets)
	}
}

func TestEpochIteratorOneHotSplit(t *testing.T) {
	rows := [][]float32{
		{0.5, -1, 0, 0, 1},
		{2, 3, 1, 0, 0},
		{-4, 4, 0, 1, 0},
	}
	data := make([]*tensor.Tensor, len(rows))
	for i, r := range rows {
		data[i] = mustTensor(t, []int{5}, tensor.Float32, r)
	}
	ds, err := training.NewSimpleDataset(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	dl, err := training.NewDataLoader(ds, 3, false, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}

	it, err := NewEpochIterator(dl, EpochOptions{Conditional: true, NumClasses: 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind != KindPaired {
		t.Fatalf("expected a paired batch, got %s", b.Kind)
	}
	if b.Data.Shape[0] != 3 || b.Data.Shape[1] != 2 {
		t.Fatalf("expected features of shape [3 2], got %v", b.Data.Shape)
	}
	features, _ := b.Data.GetFloat32Data()
	wantFeatures := []float32{0.5, -1, 2, 3, -4, 4}
	for i := range wantFeatures {
		if features[i] != wantFeatures[i] {
			t.Errorf("feature %d: expected %v, got %v", i, wantFeatures[i], features[i])
		}
	}
	labels, _ := b.Label().GetInt32Data()
	wantLabels := []int32{2, 0, 1}
	for i := range wantLabels {
		if labels[i] != wantLabels[i] {
			t.Errorf("label %d: expected %d, got %d", i, wantLabels[i], labels[i])
		}
	}
}

func TestEpochIteratorPictures(t *testing.T) {
	it, err := NewEpochIterator(pointSource(t, 8, 4, 3), EpochOptions{Conditional: true, Pictures: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if b.Kind != KindPaired || b.Data.Shape[1] != 2 {
		t.Fatalf("expected a paired batch with untouched data, got %s %v", b.Kind, b.Data.Shape)
	}
	labels, _ := b.Label().GetInt32Data()
	for i, want := range []int32{0, 1, 2, 0} {
		if labels[i] != want {
			t.Errorf("label %d: expected %d, got %d", i, want, labels[i])
		}
	}

	it, err = NewEpochIterator(pointSource(t, 8, 4, 0), EpochOptions{Conditional: true, Pictures: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := it.Next(); err == nil {
		t.Error("expected unlabelled pictures to be rejected")
	}
}

func TestEpochIteratorOptions(t *testing.T) {
	if _, err := NewEpochIterator(&emptySource{}, EpochOptions{NumPasses: -1}); err == nil {
		t.Error("expected negative passes to be rejected")
	}
	if _, err := NewEpochIterator(&emptySource{}, EpochOptions{Conditional: true}); err == nil {
		t.Error("expected one-hot mode without a class count to be rejected")
	}
}
