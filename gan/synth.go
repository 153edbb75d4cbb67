package gan

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-gan/config"
	"github.com/tsawler/go-gan/tensor"
)

// FakeOptions adjusts a single synthesis call.
type FakeOptions struct {
	// Noise replaces the sampled latent noise, e.g. a fixed grid for sampling.
	Noise *tensor.Tensor
	// Label fixes the class of every sample in conditional mode.
	Label *int
	// DropLabels returns a Single batch in conditional mode.
	DropLabels bool
}

// Synthesizer draws latent noise and labels and runs the generator on them.
type Synthesizer struct {
	generator Network
	device    tensor.DeviceType

	conditional bool
	twoLabels   bool
	shuffle     bool
	numClasses  int
	numClasses1 int
	numClasses2 int
	joiner      *Conditioner

	noise distuv.Normal
	rng   *rand.Rand
}

// NewSynthesizer builds a synthesizer for gen using the label modes of cfg.
func NewSynthesizer(gen Network, cfg *config.Config, src rand.Source) *Synthesizer {
	return &Synthesizer{
		generator:   gen,
		device:      deviceFor(cfg),
		conditional: cfg.Conditional,
		twoLabels:   cfg.TwoLabels,
		shuffle:     cfg.ShuffleLabels,
		numClasses:  cfg.NumClasses,
		numClasses1: cfg.NumClasses1,
		numClasses2: cfg.NumClasses2,
		joiner:      &Conditioner{NumClasses: cfg.NumClasses},
		noise:       distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		rng:         rand.New(src),
	}
}

func deviceFor(cfg *config.Config) tensor.DeviceType {
	if cfg.Accelerator {
		return tensor.GPU
	}
	return tensor.CPU
}

// LatentNoise draws a [batchSize, latentShape...] standard normal tensor.
func (s *Synthesizer) LatentNoise(batchSize int, latentShape []int) (*tensor.Tensor, error) {
	shape := append([]int{batchSize}, latentShape...)
	t, err := tensor.Zeros(shape, tensor.Float32, s.device)
	if err != nil {
		return nil, errors.Wrap(err, "allocate latent noise")
	}
	data := t.Data.([]float32)
	for i := range data {
		data[i] = float32(s.noise.Rand())
	}
	return t, nil
}

// Labels draws batchSize labels uniformly from [0, numClasses).
func (s *Synthesizer) Labels(batchSize, numClasses int) (*tensor.Tensor, error) {
	if numClasses < 1 {
		return nil, errors.Errorf("need at least one class, got %d", numClasses)
	}
	labels := make([]int32, batchSize)
	for i := range labels {
		labels[i] = int32(s.rng.IntN(numClasses))
	}
	return tensor.NewTensor([]int{batchSize}, tensor.Int32, s.device, labels)
}

func (s *Synthesizer) fixedLabels(batchSize, label int) (*tensor.Tensor, error) {
	if label < 0 || label >= s.numClasses {
		return nil, errors.Errorf("label %d outside [0, %d)", label, s.numClasses)
	}
	return tensor.Full([]int{batchSize}, float64(label), tensor.Int32, s.device)
}

func (s *Synthesizer) generate(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	out, err := s.generator.Forward(inputs...)
	if err != nil {
		return nil, errors.Wrap(err, "generator forward")
	}
	if len(out) != 1 {
		return nil, errors.Errorf("generator must return one output, got %d", len(out))
	}
	return out[0], nil
}

// FakeBatch synthesizes one batch. Two-label mode yields a Tripled batch,
// conditional mode a Paired batch (Single with DropLabels) and unconditional
// mode a Single batch.
func (s *Synthesizer) FakeBatch(batchSize int, latentShape []int, opts FakeOptions) (*Batch, error) {
	noise := opts.Noise
	if noise == nil {
		var err error
		if noise, err = s.LatentNoise(batchSize, latentShape); err != nil {
			return nil, err
		}
	}

	switch {
	case s.twoLabels:
		y1, err := s.Labels(batchSize, s.numClasses1)
		if err != nil {
			return nil, err
		}
		y2, err := s.Labels(batchSize, s.numClasses2)
		if err != nil {
			return nil, err
		}
		x, err := s.generate(noise, y1, y2)
		if err != nil {
			return nil, err
		}
		return Tripled(x, y1, y2), nil

	case s.conditional:
		var y *tensor.Tensor
		var err error
		if opts.Label != nil {
			y, err = s.fixedLabels(batchSize, *opts.Label)
		} else {
			y, err = s.Labels(batchSize, s.numClasses)
		}
		if err != nil {
			return nil, err
		}
		joined, err := s.joiner.Join(noise, y)
		if err != nil {
			return nil, errors.Wrap(err, "condition latent noise")
		}
		x, err := s.generate(joined)
		if err != nil {
			return nil, err
		}
		if opts.DropLabels {
			return Single(x), nil
		}
		return Paired(x, y), nil
	}

	x, err := s.generate(noise)
	if err != nil {
		return nil, err
	}
	return Single(x), nil
}

// Relabel returns b with every label shifted by a uniform offset in
// [1, numClasses) modulo numClasses, so no label keeps its value.
func (s *Synthesizer) Relabel(b *Batch) (*Batch, error) {
	if b.Kind != KindPaired {
		return nil, errors.Errorf("relabelling needs a paired batch, got %s", b.Kind)
	}
	if s.numClasses < 2 {
		return nil, errors.Errorf("relabelling needs at least two classes, got %d", s.numClasses)
	}
	orig, err := b.Label().GetInt32Data()
	if err != nil {
		return nil, err
	}
	n := int32(s.numClasses)
	shifted := make([]int32, len(orig))
	for i, y := range orig {
		shift := 1 + int32(s.rng.IntN(s.numClasses-1))
		shifted[i] = (y + shift) % n
	}
	label, err := tensor.NewTensor([]int{len(shifted)}, tensor.Int32, b.Label().Device, shifted)
	if err != nil {
		return nil, err
	}
	out := Paired(b.Data, label)
	out.Relabelled = true
	return out, nil
}

// Stream returns an unbounded iterator of fake batches. With label shuffling
// enabled it alternates between a synthesized batch and a relabelled batch
// drawn from real, starting with a synthesized one.
func (s *Synthesizer) Stream(batchSize int, latentShape []int, real Iterator, opts FakeOptions) Iterator {
	return &fakeStream{
		synth:       s,
		batchSize:   batchSize,
		latentShape: append([]int(nil), latentShape...),
		real:        real,
		opts:        opts,
	}
}

type fakeStream struct {
	synth       *Synthesizer
	batchSize   int
	latentShape []int
	real        Iterator
	opts        FakeOptions
	realTurn    bool
}

func (fs *fakeStream) Next() (*Batch, error) {
	if !fs.synth.shuffle {
		return fs.synth.FakeBatch(fs.batchSize, fs.latentShape, fs.opts)
	}

	realTurn := fs.realTurn
	fs.realTurn = !fs.realTurn
	if !realTurn {
		return fs.synth.FakeBatch(fs.batchSize, fs.latentShape, FakeOptions{})
	}
	b, err := fs.real.Next()
	if err != nil {
		return nil, err
	}
	return fs.synth.Relabel(b)
}
