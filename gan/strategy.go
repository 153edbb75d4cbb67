package gan

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-gan/tensor"
	"github.com/tsawler/go-gan/training"
)

// Strategy turns critic scores into the two adversarial losses. Both results
// are differentiable scalars.
type Strategy interface {
	DiscriminatorLoss(real, fake *Batch) (*tensor.Tensor, error)
	GeneratorLoss(fake *Batch) (*tensor.Tensor, error)
}

// UnimplementedStrategy fails every scoring call with ErrNotImplemented. Embed
// it to provide only one of the two losses.
type UnimplementedStrategy struct{}

func (UnimplementedStrategy) DiscriminatorLoss(real, fake *Batch) (*tensor.Tensor, error) {
	return nil, errors.WithStack(ErrNotImplemented)
}

func (UnimplementedStrategy) GeneratorLoss(fake *Batch) (*tensor.Tensor, error) {
	return nil, errors.WithStack(ErrNotImplemented)
}

// Scorer runs batches through a critic, optionally joining the label to the
// data first.
type Scorer struct {
	Critic Network
	// Conditioner, when set, conditions the critic on Paired batch labels.
	Conditioner *Conditioner
}

// Score returns one score tensor per critic head. With detach the batch data
// is cut from its autograd history before scoring.
func (s Scorer) Score(b *Batch, detach bool) ([]*tensor.Tensor, error) {
	if s.Critic == nil {
		return nil, errors.New("no critic to score with")
	}
	if detach {
		b = b.Detached()
	}
	if s.Conditioner != nil {
		var err error
		if b, err = s.Conditioner.JoinBatch(b); err != nil {
			return nil, err
		}
	}
	scores, err := s.Critic.Forward(b.Tensors()...)
	if err != nil {
		return nil, errors.Wrap(err, "critic forward")
	}
	if len(scores) == 0 {
		return nil, errors.New("critic returned no scores")
	}
	return scores, nil
}

// sumHeads adds per-head losses computed by loss.
func sumHeads(scores []*tensor.Tensor, loss func(score *tensor.Tensor) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	var total *tensor.Tensor
	for i, score := range scores {
		l, err := loss(score)
		if err != nil {
			return nil, errors.Wrapf(err, "head %d", i)
		}
		if total == nil {
			total = l
			continue
		}
		if total, err = tensor.AddAutograd(total, l); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// againstTarget scores every head against a constant target with crit.
func againstTarget(crit training.Loss, value float64) func(*tensor.Tensor) (*tensor.Tensor, error) {
	return func(score *tensor.Tensor) (*tensor.Tensor, error) {
		target, err := training.Targets(score, value)
		if err != nil {
			return nil, err
		}
		return crit.Forward(score, target)
	}
}

// Targets used by the classification-style strategies.
const (
	RealLabel      = 1.0
	FakeLabel      = 0.0
	GeneratorLabel = 1.0
)

// targetStrategy scores real batches toward RealLabel, fake ones toward
// FakeLabel and generated ones toward GeneratorLabel under crit.
type targetStrategy struct {
	Scorer
	crit training.Loss
}

func (s *targetStrategy) DiscriminatorLoss(real, fake *Batch) (*tensor.Tensor, error) {
	realScores, err := s.Score(real, true)
	if err != nil {
		return nil, errors.Wrap(err, "score real batch")
	}
	fakeScores, err := s.Score(fake, true)
	if err != nil {
		return nil, errors.Wrap(err, "score fake batch")
	}

	realLoss, err := sumHeads(realScores, againstTarget(s.crit, RealLabel))
	if err != nil {
		return nil, err
	}
	fakeLoss, err := sumHeads(fakeScores, againstTarget(s.crit, FakeLabel))
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(realLoss, fakeLoss)
}

func (s *targetStrategy) GeneratorLoss(fake *Batch) (*tensor.Tensor, error) {
	scores, err := s.Score(fake, false)
	if err != nil {
		return nil, errors.Wrap(err, "score fake batch")
	}
	return sumHeads(scores, againstTarget(s.crit, GeneratorLabel))
}

// BCEStrategy is the standard GAN objective: binary cross-entropy with
// logits, real=1 and fake=0 for the critic and fake=1 for the generator.
type BCEStrategy struct {
	targetStrategy
}

// NewBCEStrategy returns a BCEStrategy scoring with scorer.
func NewBCEStrategy(scorer Scorer) *BCEStrategy {
	return &BCEStrategy{targetStrategy{Scorer: scorer, crit: training.NewBCEWithLogitsLoss()}}
}

// LeastSquaresStrategy replaces the cross-entropy of BCEStrategy with a mean
// squared error on the raw scores.
type LeastSquaresStrategy struct {
	targetStrategy
}

// NewLeastSquaresStrategy returns a LeastSquaresStrategy scoring with scorer.
func NewLeastSquaresStrategy(scorer Scorer) *LeastSquaresStrategy {
	return &LeastSquaresStrategy{targetStrategy{Scorer: scorer, crit: training.NewMSELoss("mean")}}
}

// WassersteinStrategy scores with an unbounded critic: the critic minimises
// mean(fake) - mean(real) and the generator minimises -mean(fake). Weight
// clipping or a gradient penalty is left to the caller.
type WassersteinStrategy struct {
	Scorer
}

// NewWassersteinStrategy returns a WassersteinStrategy scoring with scorer.
func NewWassersteinStrategy(scorer Scorer) *WassersteinStrategy {
	return &WassersteinStrategy{Scorer: scorer}
}

func negMean(score *tensor.Tensor) (*tensor.Tensor, error) {
	m, err := tensor.MeanAutograd(score)
	if err != nil {
		return nil, err
	}
	return tensor.ScaleAutograd(m, -1)
}

func (s *WassersteinStrategy) DiscriminatorLoss(real, fake *Batch) (*tensor.Tensor, error) {
	realScores, err := s.Score(real, true)
	if err != nil {
		return nil, errors.Wrap(err, "score real batch")
	}
	fakeScores, err := s.Score(fake, true)
	if err != nil {
		return nil, errors.Wrap(err, "score fake batch")
	}

	realTerm, err := sumHeads(realScores, negMean)
	if err != nil {
		return nil, err
	}
	fakeTerm, err := sumHeads(fakeScores, tensor.MeanAutograd)
	if err != nil {
		return nil, err
	}
	return tensor.AddAutograd(fakeTerm, realTerm)
}

func (s *WassersteinStrategy) GeneratorLoss(fake *Batch) (*tensor.Tensor, error) {
	scores, err := s.Score(fake, false)
	if err != nil {
		return nil, errors.Wrap(err, "score fake batch")
	}
	return sumHeads(scores, negMean)
}

// ParseStrategy builds a strategy by name: "bce", "lsgan" or "wgan".
func ParseStrategy(name string, scorer Scorer) (Strategy, error) {
	switch name {
	case "", "bce":
		return NewBCEStrategy(scorer), nil
	case "lsgan":
		return NewLeastSquaresStrategy(scorer), nil
	case "wgan":
		return NewWassersteinStrategy(scorer), nil
	}
	return nil, errors.Errorf("unknown loss strategy %q", name)
}
