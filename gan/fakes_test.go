package gan

import (
	"math/rand/v2"
	"testing"

	"github.com/tsawler/go-gan/config"
	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// countingOptimizer is plain SGD that counts applied steps.
type countingOptimizer struct {
	*training.SGD
	steps int
}

func newCountingOptimizer(params []*tensor.Tensor) *countingOptimizer {
	return &countingOptimizer{SGD: training.NewSGD(params, 0.05, 0, 0, 0, false)}
}

func (c *countingOptimizer) Step() error {
	c.steps++
	return c.SGD.Step()
}

// countingIterator counts the batches drawn from it.
type countingIterator struct {
	Iterator
	draws int
}

func (c *countingIterator) Next() (*Batch, error) {
	c.draws++
	return c.Iterator.Next()
}

// pair is a generator and critic built from linear layers.
type pair struct {
	gen, critic       *ModuleNetwork
	genOpt, criticOpt *countingOptimizer
}

func linear(t *testing.T, in, out int) *training.Linear {
	t.Helper()
	l, err := training.NewLinear(in, out, true, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// newPair builds networks matching cfg's label modes for dataDim-wide samples.
func newPair(t *testing.T, cfg *config.Config, dataDim int) *pair {
	t.Helper()
	latent := 1
	for _, d := range cfg.LatentShape {
		latent *= d
	}

	var gen, critic *ModuleNetwork
	switch {
	case cfg.TwoLabels:
		extra := cfg.NumClasses1 + cfg.NumClasses2
		gen = WrapConditional(linear(t, latent+extra, dataDim), cfg.NumClasses1, cfg.NumClasses2)
		critic = WrapConditional(linear(t, dataDim+extra, 1), cfg.NumClasses1, cfg.NumClasses2)
	case cfg.Conditional && cfg.ConditionalCritic:
		gen = Wrap(linear(t, latent+cfg.NumClasses, dataDim))
		critic = Wrap(linear(t, dataDim+cfg.NumClasses, 1))
	case cfg.Conditional:
		gen = Wrap(linear(t, latent+cfg.NumClasses, dataDim))
		critic = WrapConditional(linear(t, dataDim+cfg.NumClasses, 1), cfg.NumClasses)
	default:
		gen = Wrap(linear(t, latent, dataDim))
		critic = Wrap(linear(t, dataDim, 1))
	}
	return &pair{
		gen:       gen,
		critic:    critic,
		genOpt:    newCountingOptimizer(gen.Parameters()),
		criticOpt: newCountingOptimizer(critic.Parameters()),
	}
}

func (p *pair) trainer(t *testing.T, cfg *config.Config, opts ...Option) *Trainer {
	t.Helper()
	var cond *Conditioner
	if cfg.ConditionalCritic {
		cond = &Conditioner{NumClasses: cfg.NumClasses}
	}
	opts = append([]Option{WithRandSource(rand.NewPCG(1, 2))}, opts...)
	tr, err := NewTrainer(cfg, p.gen, p.critic, p.genOpt, p.criticOpt,
		NewBCEStrategy(Scorer{Critic: p.critic, Conditioner: cond}), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// pointSource returns an n-point two-dimensional source. With numClasses > 0
// sample i carries label i % numClasses.
func pointSource(t *testing.T, n, batchSize, numClasses int) *training.DataLoader {
	t.Helper()
	data := make([]*tensor.Tensor, n)
	var labels [][]int
	for i := range data {
		x, err := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{float32(i % 5), float32(i%3) - 1})
		if err != nil {
			t.Fatal(err)
		}
		data[i] = x
		if numClasses > 0 {
			labels = append(labels, []int{i % numClasses})
		}
	}
	ds, err := training.NewSimpleDataset(data, labels)
	if err != nil {
		t.Fatal(err)
	}
	dl, err := training.NewDataLoader(ds, batchSize, false, tensor.CPU)
	if err != nil {
		t.Fatal(err)
	}
	return dl
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BatchSize = 8
	cfg.LatentShape = []int{2}
	cfg.NumIter = 5
	cfg.NumDiscIters = 2
	cfg.NumClasses = 4
	return cfg
}

// snapshot copies the values of params.
func snapshot(t *testing.T, params []*tensor.Tensor) [][]float32 {
	t.Helper()
	out := make([][]float32, len(params))
	for i, p := range params {
		data, err := p.GetFloat32Data()
		if err != nil {
			t.Fatal(err)
		}
		out[i] = append([]float32(nil), data...)
	}
	return out
}

func sameValues(t *testing.T, before [][]float32, params []*tensor.Tensor) bool {
	t.Helper()
	after := snapshot(t, params)
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				return false
			}
		}
	}
	return true
}

func mustTensor(t *testing.T, shape []int, dtype tensor.DType, data interface{}) *tensor.Tensor {
	t.Helper()
	x, err := tensor.NewTensor(shape, dtype, tensor.CPU, data)
	if err != nil {
		t.Fatal(err)
	}
	return x
}
